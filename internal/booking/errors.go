package booking

import "errors"

// ErrMalformedMessage — тело сообщения не разбирается как запрос на запись.
var ErrMalformedMessage = errors.New("malformed booking message")
