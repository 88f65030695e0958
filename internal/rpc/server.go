// Package rpc hosts ContextFS's stdio tool server (spec.md §6 "RPC
// surface"): line-delimited JSON requests in on stdin, line-delimited JSON
// responses out on stdout, exposing search/timeline/get/save_memory and a
// zero-arg __IMPORTANT describing the progressive-retrieval workflow.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"contextfs/internal/cerrors"
	"contextfs/internal/logging"
	"contextfs/internal/retrieval"
	"contextfs/internal/workspace"
)

// Request is one line of stdin: a tool name plus its raw argument object.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response mirrors the CLI's --json shapes: ok+result on success,
// ok=false+error on failure, never both.
type Response struct {
	ID    string      `json:"id,omitempty"`
	OK    bool        `json:"ok"`
	Tool  string      `json:"tool"`
	Result interface{} `json:"result,omitempty"`
	Error *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the JSON shape of a failed call.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Server serves tool calls over the given reader/writer pair, one
// line-delimited JSON request per response, until the reader is exhausted
// or ctx is canceled.
type Server struct {
	eng *workspace.Engine
}

// New returns a Server bound to an already-booted workspace.
func New(eng *workspace.Engine) *Server {
	return &Server{eng: eng}
}

// Serve reads newline-delimited JSON requests from r and writes
// newline-delimited JSON responses to w until EOF or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(Response{OK: false, Error: &ErrorBody{Kind: "usage", Message: "invalid request: " + err.Error()}})
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID, Tool: req.Tool}

	result, err := s.call(ctx, req.Tool, req.Params)
	if err != nil {
		logging.Get(logging.CategoryRPC).Warn("rpc: %s failed: %v", req.Tool, err)
		ce := cerrors.As(err)
		resp.OK = false
		resp.Error = &ErrorBody{Kind: string(ce.Kind), Message: ce.Error()}
		return resp
	}
	resp.OK = true
	resp.Result = result
	return resp
}

func (s *Server) call(ctx context.Context, tool string, params json.RawMessage) (interface{}, error) {
	switch tool {
	case "search":
		var in retrieval.SearchInput
		if err := unmarshalParams(params, &in); err != nil {
			return nil, err
		}
		return s.eng.Retrieval.Search(ctx, in)
	case "timeline":
		var in retrieval.TimelineInput
		if err := unmarshalParams(params, &in); err != nil {
			return nil, err
		}
		return s.eng.Retrieval.Timeline(in)
	case "get":
		var in retrieval.GetInput
		if err := unmarshalParams(params, &in); err != nil {
			return nil, err
		}
		return s.eng.Retrieval.Get(in)
	case "save_memory":
		var in retrieval.SaveMemoryInput
		if err := unmarshalParams(params, &in); err != nil {
			return nil, err
		}
		return s.eng.Retrieval.SaveMemory(ctx, in)
	case "__IMPORTANT":
		return importantDoc(), nil
	default:
		return nil, cerrors.Usage("rpc: unknown tool %q", tool)
	}
}

func unmarshalParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return cerrors.Usage("rpc: bad params: %v", err)
	}
	return nil
}

// importantDoc returns the progressive-workflow documentation a calling
// agent should read before using the other four tools (spec.md §6
// "__IMPORTANT returning the progressive-workflow documentation").
func importantDoc() map[string]interface{} {
	return map[string]interface{}{
		"workflow": []string{
			"search(query) first — it returns a bounded list of ranked rows, each with an id and an expand hint estimating the token cost of going deeper.",
			"timeline(anchor_id) widens the window around one row when neighboring context is needed, without pulling the whole log.",
			"get(id) fetches one full record; pass head to bound its size, json=true for a structured payload that degrades gracefully under a tight budget.",
			"save_memory(text) writes an explicit durable note when something should survive compaction verbatim, independent of the rolling summary.",
			"Never assume a turn is gone because it left the injected pack — it is retrievable by id via get/timeline until an explicit gc.",
		},
		"budget_note": "search rows carry an estimated token cost for get and timeline up front; prefer the smallest head that answers the question.",
	}
}
