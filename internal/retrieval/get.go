package retrieval

import (
	"encoding/json"
	"time"

	"contextfs/internal/cerrors"
	"contextfs/internal/model"
)

const (
	getTextShrinkStep = 32
	getTextFloor      = 4
	getIDCap          = 16
	getTypeCap        = 16
)

// Get resolves id via the same hot-then-archive policy as Timeline, then
// renders it as either an ellipsis-truncated text blob or a byte-budgeted
// JSON payload (spec.md §4.9 "Get").
func (e *Engine) Get(in GetInput) (GetResult, error) {
	start := time.Now()
	head := e.opts.GetDefaultHead
	if in.Head != nil {
		head = *in.Head
	}
	if head > 200_000 {
		head = 200_000
	}

	tr := model.Trace{Command: "get", Inputs: map[string]interface{}{"id": in.ID, "head": head}}
	defer func() { e.emitTrace(&tr, start) }()

	turn, source, err := e.resolveRecord(in.ID, in.Session)
	if err != nil {
		tr.OK = false
		tr.Error = err.Error()
		return GetResult{}, err
	}
	tr.OK = true

	if !in.JSON {
		text := textPayload(source, turn)
		if head > 0 && len(text) > head {
			text = text[:head] + "..."
		}
		return GetResult{Text: text}, nil
	}

	payload, truncatedFields := trimToBudget(source, turn, head)
	tr.Truncation = map[string]interface{}{"truncated_fields": truncatedFields}
	return GetResult{JSONPayload: payload, TruncatedFields: truncatedFields}, nil
}

func (e *Engine) resolveRecord(id string, session SessionFilter) (model.Turn, model.Source, error) {
	hotTurns, _, err := e.history.ReadHistory(false)
	if err != nil {
		return model.Turn{}, "", err
	}
	if idx, found := findIndex(hotTurns, id, session); found == foundOne {
		return hotTurns[idx], model.SourceHot, nil
	} else if found == foundConflict {
		return model.Turn{}, "", cerrors.Conflict("get: id %q matches multiple turns across sessions", id)
	}

	archiveTurns, err := e.archive.ReadArchive()
	if err != nil {
		return model.Turn{}, "", err
	}
	idx, found := findIndex(archiveTurns, id, session)
	switch found {
	case foundOne:
		return archiveTurns[idx], model.SourceArchive, nil
	case foundConflict:
		return model.Turn{}, "", cerrors.Conflict("get: id %q matches multiple turns across sessions", id)
	default:
		return model.Turn{}, "", cerrors.NotFound("get: id %q not found", id)
	}
}

func textPayload(source model.Source, t model.Turn) string {
	data, _ := json.Marshal(map[string]interface{}{"source": source, "record": t})
	return string(data)
}

func recordMap(t model.Turn) map[string]interface{} {
	return map[string]interface{}{
		"id":         t.ID,
		"ts":         t.Ts,
		"session_id": t.SessionID,
		"role":       t.Role,
		"type":       t.Type,
		"refs":       t.Refs,
		"tags":       t.Tags,
		"text":       t.Text,
	}
}

func marshalLen(source model.Source, record map[string]interface{}) (int, []byte) {
	data, err := json.Marshal(map[string]interface{}{"source": source, "record": record})
	if err != nil {
		return 0, nil
	}
	return len(data), data
}

// trimToBudget iteratively drops precision from record, in the fixed
// order refs -> tags -> text (32 chars/step, floor 4) -> id (cap 16) ->
// type (cap 16), until the marshaled {source, record} fits within head
// bytes, falling back to progressively smaller terminal payloads if it
// never does (spec.md §4.9 "Get").
func trimToBudget(source model.Source, t model.Turn, head int) (map[string]interface{}, []string) {
	record := recordMap(t)
	var truncated []string

	fits := func() bool {
		n, _ := marshalLen(source, record)
		return head <= 0 || n <= head
	}
	if fits() {
		return record, truncated
	}

	record["refs"] = nil
	truncated = append(truncated, "refs")
	if fits() {
		return record, truncated
	}

	record["tags"] = nil
	truncated = append(truncated, "tags")
	if fits() {
		return record, truncated
	}

	text, _ := record["text"].(string)
	truncated = append(truncated, "text")
	for len(text) > getTextFloor {
		cut := len(text) - getTextShrinkStep
		if cut < getTextFloor {
			cut = getTextFloor
		}
		text = text[:cut]
		record["text"] = text
		if fits() {
			return record, truncated
		}
	}

	id, _ := record["id"].(string)
	if len(id) > getIDCap {
		record["id"] = id[:getIDCap]
		truncated = append(truncated, "id")
		if fits() {
			return record, truncated
		}
	}

	typ, _ := record["type"].(model.TurnType)
	typStr := string(typ)
	if len(typStr) > getTypeCap {
		record["type"] = typStr[:getTypeCap]
		truncated = append(truncated, "type")
		if fits() {
			return record, truncated
		}
	}

	// Terminal fallback payloads, each smaller than the last.
	fallback := map[string]interface{}{
		"id":             record["id"],
		"truncated":      true,
		"effective_head": head,
		"note":           "budget_too_small",
	}
	if n, _ := marshalLenPlain(fallback); head <= 0 || n <= head {
		return fallback, truncated
	}
	minimal := map[string]interface{}{"truncated": true}
	if n, _ := marshalLenPlain(minimal); head <= 0 || n <= head {
		return minimal, truncated
	}
	return map[string]interface{}{}, truncated
}

func marshalLenPlain(v interface{}) (int, []byte) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, nil
	}
	return len(data), data
}
