package http

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"

	"video-quiz-engine/internal/domain"
	"video-quiz-engine/internal/engine"
	"video-quiz-engine/internal/overlay"

	"github.com/gorilla/websocket"
)

// EngineFactory builds one engine per connection, bound to that
// connection's transport.
type EngineFactory func(transport engine.Transport) *engine.Engine

type WSHandler struct {
	newEngine EngineFactory
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

func NewWSHandler(newEngine EngineFactory, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		newEngine: newEngine,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	VideoRef string `json:"videoRef"`
}

type positionPayload struct {
	Seconds float64 `json:"seconds"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type questionRefPayload struct {
	QuestionID string `json:"questionId"`
}

type seekPayload struct {
	Seconds float64 `json:"seconds"`
}

type mapRegionsPayload struct {
	QuestionID    string  `json:"questionId"`
	DisplayWidth  float64 `json:"displayWidth"`
	DisplayHeight float64 `json:"displayHeight"`
}

type mappedRegion struct {
	Label string     `json:"label"`
	Box   domain.Box `json:"box"`
}

type regionsPayload struct {
	QuestionID string         `json:"questionId"`
	Regions    []mappedRegion `json:"regions"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into a
// per-connection engine. The host reports playback positions inbound;
// engine events and transport directives flow outbound.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	transport := &wsTransport{send: send}
	eng := h.newEngine(transport)
	defer eng.Close(r.Context())

	// send is never closed: engine timers may emit directives right up to
	// teardown, and a send on a closed channel would panic. The writer
	// exits on the close signal instead.
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					h.log.Warn("ws write error", "err", err)
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event := <-eng.Events():
				select {
				case send <- outboundMessage[any]{Type: string(event.Type), Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(send, "invalid start payload")
				continue
			}
			// Submission and the first health probe hit the job service;
			// run them off the read loop.
			go func() {
				if err := eng.StartProcessing(r.Context(), payload.VideoRef); err != nil {
					h.sendError(send, err.Error())
				}
			}()
		case "cancel":
			eng.CancelProcessing(r.Context())
		case "begin":
			eng.StartSession()
		case "position":
			var payload positionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				continue
			}
			transport.setPosition(payload.Seconds)
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(send, "invalid answer payload")
				continue
			}
			if err := eng.Submit(r.Context(), payload.QuestionID, payload.Answer); err != nil {
				h.sendError(send, err.Error())
			}
		case "skip":
			var payload questionRefPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				continue
			}
			eng.Skip(payload.QuestionID)
		case "tryAgain":
			var payload questionRefPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				continue
			}
			eng.TryAgain(payload.QuestionID)
		case "watchAgain":
			var payload questionRefPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				continue
			}
			eng.WatchAgain(payload.QuestionID)
		case "mapRegions":
			var payload mapRegionsPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(send, "invalid mapRegions payload")
				continue
			}
			question, ok := eng.Question(payload.QuestionID)
			if !ok {
				h.sendError(send, "unknown question "+payload.QuestionID)
				continue
			}
			regions := make([]mappedRegion, 0, len(question.DetectionRegions))
			for _, region := range question.DetectionRegions {
				if box, ok := overlay.MapRegion(region, payload.DisplayWidth, payload.DisplayHeight); ok {
					regions = append(regions, mappedRegion{Label: region.Label, Box: box})
				}
			}
			select {
			case send <- outboundMessage[any]{Type: "regions", Payload: regionsPayload{
				QuestionID: payload.QuestionID,
				Regions:    regions,
			}}:
			default:
			}
		case "ended":
			eng.HandleEnded(r.Context())
		case "restart":
			eng.Restart()
		case "stats":
			select {
			case send <- outboundMessage[any]{Type: "stats", Payload: eng.Stats()}:
			default:
			}
		default:
			h.sendError(send, "unsupported message type")
		}
	}

	close(closeSignals)
	<-eventsDone
	<-writerDone
}

func (h *WSHandler) sendError(send chan<- outboundMessage[any], message string) {
	select {
	case send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}}:
	default:
	}
}

// wsTransport bridges the engine's transport to the websocket: directives
// go out as messages, positions come from the host's periodic reports.
// Directive sends never block; a directive racing connection teardown is
// dropped.
type wsTransport struct {
	send     chan<- outboundMessage[any]
	position atomic.Uint64
}

func (t *wsTransport) Play()  { t.directive(outboundMessage[any]{Type: "play"}) }
func (t *wsTransport) Pause() { t.directive(outboundMessage[any]{Type: "pause"}) }

func (t *wsTransport) Seek(seconds float64) {
	t.directive(outboundMessage[any]{Type: "seek", Payload: seekPayload{Seconds: seconds}})
}

func (t *wsTransport) Position() float64 {
	return math.Float64frombits(t.position.Load())
}

func (t *wsTransport) setPosition(seconds float64) {
	t.position.Store(math.Float64bits(seconds))
}

func (t *wsTransport) directive(msg outboundMessage[any]) {
	select {
	case t.send <- msg:
	default:
	}
}
