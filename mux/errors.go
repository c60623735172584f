package mux

import verrors "vmux/internal/errors"

// Errors returned by this package. Match them with errors.Is.
var (
	ErrSessionClosed = verrors.ErrSessionClosed
	ErrSocketClosed  = verrors.ErrSocketClosed
	ErrStreamClosed  = verrors.ErrStreamClosed
	ErrPortInUse     = verrors.ErrPortInUse
	ErrInvalidPort   = verrors.ErrInvalidPort
	ErrInvalidState  = verrors.ErrInvalidState
	ErrNotConnected  = verrors.ErrNotConnected
	ErrConnectFailed = verrors.ErrConnectFailed
	ErrProtocol      = verrors.ErrProtocol

	// Timeouts implement net.Error with Timeout() == true.
	ErrAcceptTimeout = verrors.ErrAcceptTimeout
	ErrReadTimeout   = verrors.ErrReadTimeout
	ErrWriteTimeout  = verrors.ErrWriteTimeout
)

type (
	ProtocolError = verrors.ProtocolError
	EncodingError = verrors.EncodingError
	ConnectError  = verrors.ConnectError
)
