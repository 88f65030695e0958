package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"contextfs/internal/cerrors"
	"contextfs/internal/model"
)

var typePattern = regexp.MustCompile(`^[a-z0-9_.:-]{1,64}$`)

var allowedRoles = map[model.Role]bool{
	model.RoleUser:      true,
	model.RoleAssistant: true,
	model.RoleSystem:    true,
	model.RoleTool:      true,
	model.RoleNote:      true,
}

const previewMaxChars = 200

// SaveMemory writes an explicit memory entry to the hot history log
// (spec.md §4.9 "save_memory"): text is required, role/type default and
// validate, and a title (when given) is folded into the stored text and
// tagged.
func (e *Engine) SaveMemory(ctx context.Context, in SaveMemoryInput) (SaveMemoryResult, error) {
	start := time.Now()
	tr := model.Trace{Command: "save_memory"}
	defer func() { e.emitTrace(&tr, start) }()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		tr.OK = false
		tr.Error = "text must not be empty"
		return SaveMemoryResult{}, cerrors.Usage("save_memory: text must not be empty")
	}

	role := in.Role
	if role == "" {
		role = string(model.RoleAssistant)
	}
	normalizedRole := model.NormalizeRole(role)
	if !allowedRoles[normalizedRole] {
		tr.OK = false
		tr.Error = "invalid role"
		return SaveMemoryResult{}, cerrors.Usage("save_memory: invalid role %q", role)
	}

	typ := in.Type
	if typ == "" {
		typ = string(model.TypeNote)
	}
	if !typePattern.MatchString(typ) {
		tr.OK = false
		tr.Error = "invalid type"
		return SaveMemoryResult{}, cerrors.Usage("save_memory: type %q must match %s", typ, typePattern.String())
	}

	sessionID := in.SessionID
	if sessionID == "" {
		if st, err := e.state.ReadState(); err == nil {
			sessionID = st.CurrentSessionID
		}
	}

	storedText := text
	var tags []string
	if title := strings.TrimSpace(in.Title); title != "" {
		storedText = fmt.Sprintf("[title] %s\n%s", title, text)
		tags = append(tags, "title:"+title)
	}

	turn := model.Turn{
		Ts:        start.UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Role:      normalizedRole,
		Type:      model.TurnType(typ),
		Tags:      tags,
		Text:      storedText,
	}

	stored, err := e.history.Append(turn)
	if err != nil {
		tr.OK = false
		tr.Error = err.Error()
		return SaveMemoryResult{}, err
	}

	if _, err := e.embed.UpsertTurn(ctx, stored, model.SourceHot); err != nil {
		tr.FallbackReason = "embedding: " + err.Error()
	}

	tr.OK = true
	tr.Ranking = []model.RankingRow{{ID: stored.ID, Ts: stored.Ts, Type: stored.Type, Source: model.SourceHot}}

	return SaveMemoryResult{Record: stored, Preview: oneLine(storedText, previewMaxChars)}, nil
}
