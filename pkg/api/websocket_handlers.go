package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"syscall"

	"github.com/gofiber/contrib/websocket"

	"github.com/WVU-ASEL/glidar/domain/simulator"
	customlog "github.com/WVU-ASEL/glidar/pkg/log"
)

// CommandSink accepts control commands. It must not block.
type CommandSink interface {
	Submit(cmd simulator.Command) bool
}

// ControlWebSocketHandler reads control commands from the socket and hands
// them to the sink, replying once per message.
func ControlWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, sink CommandSink) {
	logger.Infof("Control WebSocket connected: %s", conn.RemoteAddr())
	var (
		mt  int
		msg []byte
		err error
	)
	for {
		if mt, msg, err = conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Errorf("Control WS read error: %v", err)
			} else if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				logger.Infof("Control WS connection closed: %v", err)
			} else {
				logger.Infof("Control WS connection closed normally.")
			}
			break
		}

		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text Control WS message type: %d", mt)
			continue
		}

		reply := handleControlMessage(msg, sink)
		if reply.Error != "" {
			logger.Warnf("Rejected control command %q: %s", string(msg), reply.Error)
		} else {
			logger.Debugf("Control command %s accepted=%t", reply.Command, reply.Accepted)
		}
		if err := conn.WriteJSON(reply); err != nil {
			logger.Warnf("Failed to reply on Control WS: %v", err)
			break
		}
	}
	logger.Infof("Control WebSocket disconnected: %s", conn.RemoteAddr())
}

// handleControlMessage decodes either a JSON ControlMsg or a bare command word.
func handleControlMessage(msg []byte, sink CommandSink) ControlReply {
	word := string(bytes.TrimSpace(msg))
	if bytes.HasPrefix(bytes.TrimSpace(msg), []byte("{")) {
		var ctl ControlMsg
		if err := json.Unmarshal(msg, &ctl); err != nil {
			return ControlReply{Error: "malformed control message: " + err.Error()}
		}
		word = ctl.Command
	}

	kind, err := simulator.ParseCommand(word)
	if err != nil {
		return ControlReply{Command: word, Error: err.Error()}
	}
	reply := ControlReply{Command: kind.String(), Accepted: sink.Submit(simulator.Command{Kind: kind})}
	if !reply.Accepted {
		reply.Error = "command queue full"
	}
	return reply
}
