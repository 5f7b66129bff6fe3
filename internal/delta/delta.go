// Package delta implements the edit-operation sequences the collaboration
// engine exchanges with rich-text clients: ordered runs of insert/retain/delete
// instructions with optional formatting attributes, plus the compose operation
// that folds an incoming edit into a base sequence. The wire format is the
// Quill delta JSON shape ({"ops":[{"insert":"x","attributes":{...}}]}), so
// stock editor widgets can produce and consume it unchanged.
package delta

import (
	"errors"
	"fmt"
	"math"
	"reflect"
)

// WelcomeText seeds every freshly created document.
const WelcomeText = "Welcome to your real-time document!\n"

// ErrMalformedOperation reports an op that does not parse as exactly one of
// insert, retain or delete.
var ErrMalformedOperation = errors.New("malformed operation")

// Op is a single instruction in an operation sequence.
//
// Exactly one of Insert, Retain or Delete must be set. Insert holds either a
// string of text or an embed object (map). Attributes carry formatting; a nil
// attribute value inside a retain means "remove this attribute".
type Op struct {
	Insert     any            `json:"insert,omitempty"`
	Retain     int            `json:"retain,omitempty"`
	Delete     int            `json:"delete,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Delta is an ordered operation sequence describing either a document's full
// content (inserts only) or an edit against it.
type Delta struct {
	Ops []Op `json:"ops"`
}

// New builds a delta from the given ops.
func New(ops ...Op) Delta {
	return Delta{Ops: ops}
}

// Seed returns the default content every new document starts with.
func Seed() Delta {
	return New(Op{Insert: WelcomeText})
}

// BaseOrSeed substitutes the seed sequence for an absent or malformed base
// before composing. This is a deliberate fallback, not an error: a stored
// document that predates the current format still loads.
func BaseOrSeed(d Delta) Delta {
	if d.Ops == nil || d.Validate() != nil {
		return Seed()
	}
	return d
}

// Validate checks every op for well-formedness.
func (d Delta) Validate() error {
	for i, op := range d.Ops {
		set := 0
		if op.Insert != nil {
			switch v := op.Insert.(type) {
			case string:
				if v == "" {
					return fmt.Errorf("%w: op %d has an empty insert", ErrMalformedOperation, i)
				}
			case map[string]any:
				// embed object, length 1
			default:
				return fmt.Errorf("%w: op %d insert is neither text nor embed", ErrMalformedOperation, i)
			}
			set++
		}
		if op.Retain != 0 {
			if op.Retain < 0 {
				return fmt.Errorf("%w: op %d has negative retain", ErrMalformedOperation, i)
			}
			set++
		}
		if op.Delete != 0 {
			if op.Delete < 0 {
				return fmt.Errorf("%w: op %d has negative delete", ErrMalformedOperation, i)
			}
			set++
		}
		if set != 1 {
			return fmt.Errorf("%w: op %d must set exactly one of insert/retain/delete", ErrMalformedOperation, i)
		}
	}
	return nil
}

// length is the number of content positions an op spans. Embeds count as one.
func (o Op) length() int {
	switch {
	case o.Delete > 0:
		return o.Delete
	case o.Retain > 0:
		return o.Retain
	default:
		if s, ok := o.Insert.(string); ok {
			return len([]rune(s))
		}
		return 1
	}
}

type opKind int

const (
	kindRetain opKind = iota
	kindInsert
	kindDelete
)

func (o Op) kind() opKind {
	switch {
	case o.Insert != nil:
		return kindInsert
	case o.Delete > 0:
		return kindDelete
	default:
		return kindRetain
	}
}

// opIterator walks an op sequence, handing out runs of at most the requested
// length. Past the end it synthesizes plain retains, which lets Compose treat
// a shorter sequence as if it were padded with identity.
type opIterator struct {
	ops    []Op
	index  int
	offset int
}

func (it *opIterator) hasNext() bool {
	return it.index < len(it.ops)
}

func (it *opIterator) peekKind() opKind {
	if it.index >= len(it.ops) {
		return kindRetain
	}
	return it.ops[it.index].kind()
}

func (it *opIterator) peekLength() int {
	if it.index >= len(it.ops) {
		return math.MaxInt
	}
	return it.ops[it.index].length() - it.offset
}

func (it *opIterator) next(length int) Op {
	if it.index >= len(it.ops) {
		return Op{Retain: length}
	}

	op := it.ops[it.index]
	offset := it.offset
	remaining := op.length() - offset
	if length >= remaining {
		length = remaining
		it.index++
		it.offset = 0
	} else {
		it.offset += length
	}

	switch op.kind() {
	case kindDelete:
		return Op{Delete: length}
	case kindRetain:
		return Op{Retain: length, Attributes: op.Attributes}
	default:
		if s, ok := op.Insert.(string); ok {
			runes := []rune(s)
			return Op{Insert: string(runes[offset : offset+length]), Attributes: op.Attributes}
		}
		return Op{Insert: op.Insert, Attributes: op.Attributes}
	}
}

// Compose returns the sequence equivalent to applying other after d. It is
// associative, and the empty delta is its identity element. Neither receiver
// nor argument is mutated.
func (d Delta) Compose(other Delta) Delta {
	a := &opIterator{ops: d.Ops}
	b := &opIterator{ops: other.Ops}

	var out Delta
	for a.hasNext() || b.hasNext() {
		if b.peekKind() == kindInsert {
			out.push(b.next(b.peekLength()))
			continue
		}
		if a.peekKind() == kindDelete {
			out.push(a.next(a.peekLength()))
			continue
		}

		n := a.peekLength()
		if l := b.peekLength(); l < n {
			n = l
		}
		opA := a.next(n)
		opB := b.next(n)

		switch opB.kind() {
		case kindRetain:
			composed := Op{Attributes: composeAttributes(opA.Attributes, opB.Attributes, opA.kind() == kindRetain)}
			if opA.kind() == kindRetain {
				composed.Retain = n
			} else {
				composed.Insert = opA.Insert
			}
			out.push(composed)
		case kindDelete:
			if opA.kind() == kindRetain {
				// Deleting retained content passes the delete through.
				out.push(opB)
			}
			// Deleting freshly inserted content cancels both ops.
		}
	}
	out.chop()
	return out
}

// push appends an op, merging it with its neighbor when both are plain runs of
// the same kind and attributes, and keeping inserts ahead of deletes so the
// sequence stays in canonical order.
func (d *Delta) push(newOp Op) {
	if newOp.Insert == nil && newOp.Retain == 0 && newOp.Delete == 0 {
		return
	}
	if s, ok := newOp.Insert.(string); ok && s == "" {
		return
	}

	index := len(d.Ops)
	if index > 0 {
		last := d.Ops[index-1]
		if newOp.Delete > 0 && last.Delete > 0 {
			d.Ops[index-1] = Op{Delete: last.Delete + newOp.Delete}
			return
		}
		if last.Delete > 0 && newOp.Insert != nil {
			index--
			if index == 0 {
				d.Ops = append([]Op{newOp}, d.Ops...)
				return
			}
			last = d.Ops[index-1]
		}
		if attributesEqual(newOp.Attributes, last.Attributes) {
			if ns, ok := newOp.Insert.(string); ok {
				if ls, ok := last.Insert.(string); ok {
					d.Ops[index-1] = Op{Insert: ls + ns, Attributes: last.Attributes}
					return
				}
			}
			if newOp.Retain > 0 && last.Retain > 0 {
				d.Ops[index-1] = Op{Retain: last.Retain + newOp.Retain, Attributes: last.Attributes}
				return
			}
		}
	}

	if index == len(d.Ops) {
		d.Ops = append(d.Ops, newOp)
		return
	}
	d.Ops = append(d.Ops[:index], append([]Op{newOp}, d.Ops[index:]...)...)
}

// chop drops a trailing attribute-less retain, which is a no-op.
func (d *Delta) chop() {
	if n := len(d.Ops); n > 0 {
		last := d.Ops[n-1]
		if last.Retain > 0 && last.Attributes == nil {
			d.Ops = d.Ops[:n-1]
		}
	}
}

// composeAttributes merges b over a. keepNull is set when the target op is a
// retain: the null markers must survive so a later compose can still remove
// the attribute. On inserts nulls have done their job and are dropped.
func composeAttributes(a, b map[string]any, keepNull bool) map[string]any {
	merged := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	if !keepNull {
		for k, v := range merged {
			if v == nil {
				delete(merged, k)
			}
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func attributesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
