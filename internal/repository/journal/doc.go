// Package journal persists alarm incidents.
//
// The FileRepository appends one JSON document per line to a journal file and
// reads the whole history back. Encoding goes through jsoniter configured to
// be compatible with encoding/json.
package journal
