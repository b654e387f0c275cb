package edit

import (
	"encoding/json"
	"fmt"
)

// wireAction is the JSON envelope of one action.
type wireAction struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireOp struct {
	Do   []wireAction `json:"do"`
	Undo []wireAction `json:"undo"`
}

// MarshalAction encodes a as {"type": kind, "payload": fields}.
func MarshalAction(a Action) ([]byte, error) {
	w, err := toWire(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalAction decodes the output of [MarshalAction].
func UnmarshalAction(data []byte) (Action, error) {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("edit: decode action: %w", err)
	}
	return fromWire(w)
}

func toWire(a Action) (wireAction, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return wireAction{}, fmt.Errorf("edit: encode %s: %w", a.Kind(), err)
	}
	return wireAction{Type: a.Kind(), Payload: payload}, nil
}

func decodeAs[T Action](payload json.RawMessage) (Action, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("edit: decode %s: %w", v.Kind(), err)
	}
	return v, nil
}

func fromWire(w wireAction) (Action, error) {
	switch w.Type {
	case DeleteSelection{}.Kind():
		return decodeAs[DeleteSelection](w.Payload)
	case UndoDeleteSelection{}.Kind():
		return decodeAs[UndoDeleteSelection](w.Payload)
	case PasteWords{}.Kind():
		return decodeAs[PasteWords](w.Payload)
	case UndoPasteWords{}.Kind():
		return decodeAs[UndoPasteWords](w.Payload)
	case MergeWords{}.Kind():
		return decodeAs[MergeWords](w.Payload)
	case UndoMergeWords{}.Kind():
		return decodeAs[UndoMergeWords](w.Payload)
	case SplitWord{}.Kind():
		return decodeAs[SplitWord](w.Payload)
	case UndoSplitWord{}.Kind():
		return decodeAs[UndoSplitWord](w.Payload)
	case MoveWords{}.Kind():
		return decodeAs[MoveWords](w.Payload)
	case UndoMoveWords{}.Kind():
		return decodeAs[UndoMoveWords](w.Payload)
	case CorrectWord{}.Kind():
		return decodeAs[CorrectWord](w.Payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, w.Type)
}

// MarshalJSON implements json.Marshaler.
func (o Op) MarshalJSON() ([]byte, error) {
	var w wireOp
	var err error
	if w.Do, err = toWireList(o.Do); err != nil {
		return nil, err
	}
	if w.Undo, err = toWireList(o.Undo); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Op) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("edit: decode op: %w", err)
	}
	do, err := fromWireList(w.Do)
	if err != nil {
		return err
	}
	undo, err := fromWireList(w.Undo)
	if err != nil {
		return err
	}
	o.Do, o.Undo = do, undo
	return nil
}

func toWireList(actions []Action) ([]wireAction, error) {
	out := make([]wireAction, 0, len(actions))
	for _, a := range actions {
		w, err := toWire(a)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func fromWireList(ws []wireAction) ([]Action, error) {
	out := make([]Action, 0, len(ws))
	for _, w := range ws {
		a, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
