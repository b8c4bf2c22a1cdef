// Package types holds the data shapes shared between the presence manager and
// its storage backends.
package types

import "time"

// System field names. Callers cannot set these directly; they are computed by
// the presence manager on every write.
const (
	FieldInitTime = "initTime"
	FieldLastTime = "lastTime"
)

// Record is a session as held by the durable store and mirrored in the
// presence cache. Fields is opaque caller data.
type Record struct {
	Fields   map[string]interface{} `json:"fields,omitempty" firestore:"fields,omitempty"`
	InitTime time.Time              `json:"initTime" firestore:"initTime"`
	LastTime time.Time              `json:"lastTime" firestore:"lastTime"`
}

// Clone returns a copy of r whose Fields map can be mutated independently.
// Nested values are shared.
func (r Record) Clone() Record {
	out := Record{InitTime: r.InitTime, LastTime: r.LastTime}
	if r.Fields != nil {
		out.Fields = make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Apply merges patch into a copy of r. Patch fields overwrite existing ones
// key by key and non-zero patch times replace the record's times.
func (r Record) Apply(patch Record) Record {
	out := r.Clone()
	if len(patch.Fields) > 0 && out.Fields == nil {
		out.Fields = make(map[string]interface{}, len(patch.Fields))
	}
	for k, v := range patch.Fields {
		out.Fields[k] = v
	}
	if !patch.InitTime.IsZero() {
		out.InitTime = patch.InitTime
	}
	if !patch.LastTime.IsZero() {
		out.LastTime = patch.LastTime
	}
	return out
}

// Upsert resolves a find-and-upsert against the current state of a record.
// When exists is false the insert-only group is applied before alwaysSet.
func Upsert(current Record, exists bool, insertOnly, alwaysSet Record) Record {
	if !exists {
		return Record{}.Apply(insertOnly).Apply(alwaysSet)
	}
	return current.Apply(alwaysSet)
}
