package localstore

import "sync"

var valueBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 65536)
	},
}

var emptyValue = []byte{}
