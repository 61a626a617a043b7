package worker

import "errors"

// ErrDeliveryLimit — брокер исчерпал лимит доставок сообщения.
var ErrDeliveryLimit = errors.New("broker delivery limit exceeded")
