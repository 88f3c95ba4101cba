package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrDecode                = errors.New("message decode failed")
	ErrConnectionFailed      = errors.New("connection failed")
	ErrInsufficientData      = errors.New("insufficient data")
	ErrInsufficientSamples   = errors.New("insufficient training samples")
	ErrModelNotTrained       = errors.New("model not trained")
	ErrInvalidParameters     = errors.New("invalid parameters")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrOptimizationFailed    = errors.New("optimization failed")
	ErrNoMarketData          = errors.New("no market data")
	ErrInvalidPrice          = errors.New("invalid price")
)
