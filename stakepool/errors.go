package stakepool

import "errors"

// Every operation returns one of these (possibly wrapped). Validation errors
// are returned before any custody transfer is issued.
var (
	ErrInvalidAmount      = errors.New("amount is not the amount to stake")
	ErrNoNFTOwner         = errors.New("caller is not the stake depositor")
	ErrInvalidTime        = errors.New("holding period has not elapsed")
	ErrNFTRedeemed        = errors.New("listing was already sold")
	ErrIndexOutOfRange    = errors.New("id out of range")
	ErrAssetNotRegistered = errors.New("collectible has no rank record")
	ErrAlreadyClaimed     = errors.New("stake was already claimed")
	ErrTransferFailed     = errors.New("custody transfer failed")
)
