package webservice

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
)

const (
	FrameIteration = "iteration"
	FrameReport    = "report"
	FrameError     = "error"
)

// Frame is one websocket message of a streamed solve.
type Frame struct {
	Type      string             `json:"Type"`
	Iteration *analysis.Progress `json:"Iteration,omitempty"`
	Report    *analysis.Report   `json:"Report,omitempty"`
	Error     string             `json:"Error,omitempty"`
}

// StreamHandler upgrades to a websocket, reads one case, streams an iteration
// frame per solver pass and finishes with a report or error frame.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[Webservice] upgrade:", err)
		return
	}
	defer conn.Close()

	c := analysis.Case{}
	if err := conn.ReadJSON(&c); err != nil {
		writeFrame(conn, Frame{Type: FrameError, Error: err.Error()})
		return
	}

	sess, err := analysis.Open(s.config.Session, s.pub)
	if err != nil {
		writeFrame(conn, Frame{Type: FrameError, Error: err.Error()})
		return
	}
	defer sess.Close()

	// written from inside the solver loop: one frame per pass
	sess.Watch(func(p analysis.Progress) {
		writeFrame(conn, Frame{Type: FrameIteration, Iteration: &p})
	})
	report, err := sess.Case(c)
	if err != nil {
		writeFrame(conn, Frame{Type: FrameError, Error: err.Error()})
		return
	}
	writeFrame(conn, Frame{Type: FrameReport, Report: &report})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeFrame(conn *websocket.Conn, f Frame) {
	if err := conn.WriteJSON(f); err != nil {
		log.Println("[Webservice] stream:", err)
	}
}
