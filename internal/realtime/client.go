package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"homebid/internal/apperrors"
	"homebid/internal/auth"
	"homebid/internal/config"
	"homebid/internal/events"
	"homebid/internal/services"
	"homebid/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	requestTimeout = 15 * time.Second
)

// Inbound client commands.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionNewBid      = "new-bid"
	ActionRaiseBid    = "raise-bid"
)

// clientCommand is the inbound wire format, keyed by "event" to mirror the
// outbound envelope.
type clientCommand struct {
	Action      string  `json:"event"`
	ListingID   string  `json:"listing_id,omitempty"`
	BidID       string  `json:"bid_id,omitempty"`
	PeriodStart string  `json:"period_start,omitempty"`
	PeriodEnd   string  `json:"period_end,omitempty"`
	Price       float64 `json:"price,omitempty"`
	TermsAgreed bool    `json:"terms_agreed,omitempty"`
}

// bidRejection is sent only to the command's sender.
type bidRejection struct {
	Reason string `json:"reason"`
}

// Client is one authenticated websocket connection.
type Client struct {
	hub        *Hub
	bidService services.IBidService
	conn       *websocket.Conn
	userID     utils.SixID
	send       chan []byte

	// mu guards closed: the read pump sends frames concurrently with the
	// hub closing the channel.
	mu     sync.Mutex
	closed bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the separate frontend origin; bearer
	// tokens carry the trust, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS returns the gin handler that upgrades /ws connections. The
// handshake authenticates with the same JWT the HTTP API uses, passed as a
// token query parameter since browsers cannot set headers on websocket
// upgrades.
func ServeWS(hub *Hub, cfg *config.Config, bidService services.IBidService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "missing token"})
			return
		}
		claims, err := auth.ValidateJWT(token, cfg.JwtSecret)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "invalid token"})
			return
		}
		userID, err := utils.ParseSixID(claims.UserID)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "invalid token subject"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			utils.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
			return
		}

		client := &Client{
			hub:        hub,
			bidService: bidService,
			conn:       conn,
			userID:     userID,
			send:       make(chan []byte, sendBuffer),
		}
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// enqueue hands a frame to the write pump, dropping it if the client's
// buffer is full. A reader that slow is better served by the next frame
// than by blocking every other subscriber.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		utils.Warn("dropping realtime frame for slow client", map[string]any{"user_id": c.userID.String()})
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// sendEvent marshals an envelope straight to this connection only.
func (c *Client) sendEvent(event string, data any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (c *Client) readPump() {
	defer func() {
		// The hub loop may already have exited; a stopped hub has cleaned
		// this client up itself.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("websocket read error", map[string]any{"user_id": c.userID.String(), "error": err.Error()})
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.sendEvent("error", bidRejection{Reason: "malformed command"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *Client) handle(cmd clientCommand) {
	switch cmd.Action {
	case ActionSubscribe:
		listingID, err := utils.ParseSixID(cmd.ListingID)
		if err != nil {
			c.sendEvent("error", bidRejection{Reason: "invalid listing id"})
			return
		}
		c.hub.subscribe(c, listingID)
	case ActionUnsubscribe:
		listingID, err := utils.ParseSixID(cmd.ListingID)
		if err != nil {
			c.sendEvent("error", bidRejection{Reason: "invalid listing id"})
			return
		}
		c.hub.unsubscribe(c, listingID)
	case ActionNewBid:
		c.submitBid(cmd)
	case ActionRaiseBid:
		c.raiseBid(cmd)
	default:
		c.sendEvent("error", bidRejection{Reason: "unknown action " + cmd.Action})
	}
}

// submitBid runs the same validation pipeline as the HTTP endpoint; the
// only difference is how the outcome travels back. Success fans out as a
// bid-updated event through the service's publisher, failure goes to the
// sender alone.
func (c *Client) submitBid(cmd clientCommand) {
	listingID, err := utils.ParseSixID(cmd.ListingID)
	if err != nil {
		c.reject("invalid listing id")
		return
	}
	periodStart, err := time.Parse(time.RFC3339, cmd.PeriodStart)
	if err != nil {
		c.reject("invalid period start")
		return
	}
	periodEnd, err := time.Parse(time.RFC3339, cmd.PeriodEnd)
	if err != nil {
		c.reject("invalid period end")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_, err = c.bidService.SubmitBid(ctx, services.SubmitBidInput{
		ListingID:   listingID,
		BidderID:    c.userID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Price:       cmd.Price,
		TermsAgreed: cmd.TermsAgreed,
	})
	if err != nil {
		c.reject(rejectionReason(err))
	}
}

func (c *Client) raiseBid(cmd clientCommand) {
	bidID, err := utils.ParseSixID(cmd.BidID)
	if err != nil {
		c.reject("invalid bid id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := c.bidService.RaiseBid(ctx, bidID, c.userID, cmd.Price); err != nil {
		c.reject(rejectionReason(err))
	}
}

func (c *Client) reject(reason string) {
	c.sendEvent(events.EventBidNotUpdated, bidRejection{Reason: reason})
}

// rejectionReason exposes domain error messages to the bidder but hides
// internal failure detail.
func rejectionReason(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindConflict, apperrors.KindNotFound, apperrors.KindAuthorization:
		return err.Error()
	default:
		return "bid could not be processed"
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
