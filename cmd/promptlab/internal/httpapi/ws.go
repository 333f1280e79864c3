package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
)

// wsRequest is one job on the batch socket. Messages, when present, turn the
// job into a chat call and Prompt is ignored.
type wsRequest struct {
	targetRequest
	ID       string                      `json:"id"`
	Prompt   string                      `json:"prompt"`
	Messages []message.Message           `json:"messages,omitempty"`
	Config   *genconfig.GenerationConfig `json:"config,omitempty"`
}

type wsReply struct {
	ID       string                      `json:"id"`
	Response *modeladapter.ModelResponse `json:"response,omitempty"`
	Error    *ErrorResponse              `json:"error,omitempty"`
}

// handleWS runs every received job concurrently and writes each reply as soon
// as it completes, so replies may arrive out of order. The socket stays open
// until the client closes it; in-flight jobs finish first.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.CORSOrigins})
	if err != nil {
		s.Logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(s.MaxBodyBytes)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var wg sync.WaitGroup
	for {
		var req wsRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				s.Logger.Debug().Err(err).Msg("websocket read ended")
			}
			break
		}

		wg.Go(func() {
			reply := s.runWS(ctx, req)
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				s.Logger.Debug().Err(err).Str("id", req.ID).Msg("websocket write failed")
			}
		})
	}

	wg.Wait()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *server) runWS(ctx context.Context, req wsRequest) wsReply {
	fail := func(err error) wsReply {
		return wsReply{ID: req.ID, Error: &ErrorResponse{Error: err.Error(), Code: statusFor(err)}}
	}

	t, err := s.target(req.Provider, req.Model)
	if err != nil {
		return fail(err)
	}

	var resp modeladapter.ModelResponse
	if len(req.Messages) > 0 {
		resp, err = s.Gen.Chat(ctx, req.Messages, t, req.Config)
	} else {
		resp, err = s.Gen.Generate(ctx, req.Prompt, t, req.Config)
	}
	if err != nil {
		return fail(err)
	}
	return wsReply{ID: req.ID, Response: &resp}
}
