package gateway

import (
	"encoding/json"
	"io"

	"MessageBox/logger"
	"MessageBox/service/relay"
	"MessageBox/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type statusReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type sendState struct {
	To     relay.UserID `json:"to"`
	Status string       `json:"status"`
}

type batchReply struct {
	States []sendState `json:"states"`
}

// sendItem is one POSTed message; message may be any JSON value.
type sendItem struct {
	To      relay.UserID    `json:"to"`
	Message json.RawMessage `json:"message"`
}

type sendBody struct {
	To       relay.UserID    `json:"to"`
	Message  json.RawMessage `json:"message"`
	Messages []sendItem      `json:"messages"`
}

func fail(c *gin.Context) {
	writeJSON(c, statusReply{Status: relay.StatusFail})
}

// statusOf maps a Send outcome onto the JSON status; CodeError messages
// double as status strings.
func statusOf(err error) string {
	if err == nil {
		return relay.StatusOK
	}
	return errs.Code(err).Msg
}

// handleSendQuery serves GET /send?user=&to=&message=.
func (s *Server) handleSendQuery(c *gin.Context) {
	from, ok := relay.ParseUserID(c.Query("user"))
	to, ok2 := relay.ParseUserID(c.Query("to"))
	msg, ok3 := c.GetQuery("message")
	if !ok || !ok2 || !ok3 {
		fail(c)
		return
	}
	_, err := s.svc.Send(from, to, relay.NormalizeBody([]byte(msg)))
	writeJSON(c, statusReply{Status: statusOf(err)})
}

// handleSendBody serves POST /send?user= with a single message or a
// "messages" batch. Batch entries are routed independently.
func (s *Server) handleSendBody(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeJSON(c, statusReply{Status: relay.StatusFail, Error: errs.ErrBadRequest.WrapMsg("read body", "err", err).Error()})
		return
	}
	var body sendBody
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Debug("[http] malformed send body", zap.Error(errs.ErrMalformedPayload.WrapMsg(err.Error())))
		writeJSON(c, statusReply{Status: relay.StatusFail, Error: string(raw)})
		return
	}
	from, ok := relay.ParseUserID(c.Query("user"))
	if !ok {
		fail(c)
		return
	}

	if body.Messages != nil {
		out := batchReply{States: make([]sendState, 0, len(body.Messages))}
		for _, it := range body.Messages {
			out.States = append(out.States, sendState{To: it.To, Status: s.sendOne(from, it.To, it.Message)})
		}
		writeJSON(c, out)
		return
	}
	writeJSON(c, statusReply{Status: s.sendOne(from, body.To, body.Message)})
}

func (s *Server) sendOne(from, to relay.UserID, msg json.RawMessage) string {
	to, ok := relay.ParseUserID(string(to))
	if !ok || len(msg) == 0 {
		return relay.StatusFail
	}
	_, err := s.svc.Send(from, to, relay.NormalizeBody(msg))
	return statusOf(err)
}

// handleReceive serves GET /receive?user=&session=. The request parks
// until a batch, a timeout, a newer receive on the session or the client
// going away.
func (s *Server) handleReceive(c *gin.Context) {
	user, ok := relay.ParseUserID(c.Query("user"))
	session := c.Query("session")
	if !ok || session == "" {
		fail(c)
		return
	}

	p := relay.NewPoll()
	s.svc.Receive(user, session, p)
	reply, res := p.Wait(c.Request.Context())
	switch res {
	case relay.Replied:
		writeRaw(c, reply.JSON())
	case relay.Released:
		writeRaw(c, nil)
	case relay.Canceled:
		s.svc.Abandon(user, session, p)
	}
}

func (s *Server) handleStats(c *gin.Context) {
	writeJSON(c, struct {
		Node  string   `json:"node"`
		Peers []string `json:"peers"`
		relay.Stats
	}{s.svc.NodeID(), s.svc.Neighbors().Peers(), s.svc.Stats()})
}
