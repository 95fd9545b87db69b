package routing

import "errors"

var errNoDispatcher = errors.New("no dispatcher configured")
