// Package operation defines the unit of replication: an immutable record of a
// single write that has already committed on the local replica.
//
// An Operation carries a short symbolic kind ("insert", "update", "delete" or
// any domain tag matching [a-z0-9][a-z0-9_.:-]*) and an opaque JSON payload
// holding everything a peer needs to replay the effect. The payload is
// marshaled exactly once, inside New, so a payload type that cannot be
// encoded surfaces at construction time rather than while publishing.
//
// # Wire format
//
// The JSON codec emits
//
//	{"id":"…","operation":"insert","payload":{"id":42,"value":"x"},"origin":"replica-a","committed_at":"…"}
//
// Only "operation" and "payload" are required when decoding. The MsgPack
// codec carries the same fields in binary form; the payload stays canonical
// JSON so both codecs decode to identical operations.
//
// # Usage
//
//	op, err := operation.New(operation.KindInsert, map[string]any{"id": 42, "value": "x"},
//	    operation.WithOrigin("replica-a"),
//	)
//	if err != nil {
//	    return err
//	}
//	body, _ := operation.JSON.Marshal(op)
//	back, _ := operation.JSON.Unmarshal(body)
//	operation.Equal(op, back) // true
package operation
