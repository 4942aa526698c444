package model

import "github.com/makeasinger/genreswap/pkg/api"

const (
	WSMessageTypeJobUpdate = api.WSMessageTypeJobUpdate
	WSMessageTypeError     = api.WSMessageTypeError
	WSMessageTypePing      = api.WSMessageTypePing
	WSMessageTypePong      = api.WSMessageTypePong

	WSErrorNotFound = api.WSErrorNotFound
)

type (
	WSMessage          = api.WSMessage
	WSJobUpdateMessage = api.WSJobUpdateMessage
	WSErrorMessage     = api.WSErrorMessage
	WSError            = api.WSError
)
