// Package cloakpost is a Go client for the CloakPost messaging server.
// It signs requests with the caller's Ed25519 identity key and speaks the
// thread websocket protocol.
package cloakpost

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	headerUser      = "X-CloakPost-User"
	headerNonce     = "X-CloakPost-Nonce"
	headerTimestamp = "X-CloakPost-Timestamp"
	headerSignature = "X-CloakPost-Signature"
)

// Client talks to a CloakPost server as one registered identity.
type Client struct {
	baseURL string
	userID  string
	priv    ed25519.PrivateKey
	http    *http.Client
}

// New creates a client. userID may be empty before registration.
func New(baseURL, userID string, priv ed25519.PrivateKey) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		priv:    priv,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// UserID returns the registered identity id.
func (c *Client) UserID() string { return c.userID }

// Register registers the client's public key and remembers the assigned id.
func (c *Client) Register(username string) (string, error) {
	pub := c.priv.Public().(ed25519.PublicKey)
	body, _ := json.Marshal(map[string]string{
		"public_key": base64.StdEncoding.EncodeToString(pub),
		"username":   username,
	})

	resp, err := c.http.Post(c.baseURL+"/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apiError(resp)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	c.userID = out.ID
	return out.ID, nil
}

// OpenThread gets or creates the 1:1 thread with another user.
func (c *Client) OpenThread(otherUserID string) (string, error) {
	resp, err := c.signedRequest("POST", "/dm/"+otherUserID, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apiError(resp)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// SendMessage posts a message over REST.
func (c *Client) SendMessage(threadID, body string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"body": body})
	resp, err := c.signedRequest("POST", "/threads/"+threadID+"/messages", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", apiError(resp)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Message is a decrypted message as served to an authorized participant.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Messages lists a thread's messages, decrypted server-side for the caller.
func (c *Client) Messages(threadID string) ([]Message, error) {
	resp, err := c.signedRequest("GET", "/threads/"+threadID+"/messages", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var out []Message
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSeen marks a message seen, starting its deletion clock.
func (c *Client) MarkSeen(messageID string) error {
	resp, err := c.signedRequest("POST", "/messages/"+messageID+"/seen", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// Dial opens the realtime websocket for a thread. The returned connection
// carries JSON actions and events per the server protocol.
func (c *Client) Dial(threadID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/threads/" + threadID

	// The upgrade request is signed like any other request, over the
	// empty-body hash.
	headers := c.signHeaders(nil)
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// Do issues an arbitrary signed request against the API. Most callers want
// the typed helpers; this is the escape hatch.
func (c *Client) Do(method, path string, body []byte) (*http.Response, error) {
	return c.signedRequest(method, path, body)
}

func (c *Client) signedRequest(method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.signHeaders(body) {
		req.Header.Set(k, v[0])
	}
	return c.http.Do(req)
}

func (c *Client) signHeaders(body []byte) http.Header {
	nonceBytes := make([]byte, 18)
	rand.Read(nonceBytes)
	nonce := base64.StdEncoding.EncodeToString(nonceBytes)
	ts := time.Now().UnixMilli()

	hash := sha256.Sum256(body)
	payload := fmt.Sprintf("%s|%s|%d", hex.EncodeToString(hash[:]), nonce, ts)
	sig := ed25519.Sign(c.priv, []byte(payload))

	h := http.Header{}
	h.Set(headerUser, c.userID)
	h.Set(headerNonce, nonce)
	h.Set(headerTimestamp, strconv.FormatInt(ts, 10))
	h.Set(headerSignature, base64.StdEncoding.EncodeToString(sig))
	return h
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
