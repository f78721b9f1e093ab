// Package tlssocket runs a TLS state machine against two decoupled memory
// buffers instead of directly against a transport socket, mirroring an
// OpenSSL-style BIO pair: the engine's own I/O is driven explicitly by the
// caller via Feed/DrainSend, so it can be pumped over any transport.
package tlssocket

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/hkdf"

	moderr "github.com/r3e-labs/modest/infrastructure/errors"
	"github.com/r3e-labs/modest/pkg/buffer"
)

// Engine bridges a *tls.Conn to a pair of in-memory buffers. One endpoint of
// an in-process net.Pipe is handed to crypto/tls as its transport; the other
// endpoint is continuously drained into an outbound ByteBuffer and fed from
// an inbound ByteBuffer by two background pumps, so the public API never
// touches a real socket directly.
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	outbound *buffer.ByteBuffer
	inbound  *buffer.ByteBuffer
	closed   bool

	publicSide net.Conn
	engineSide net.Conn

	conn   *tls.Conn
	config *tls.Config

	verifyCNs []string
	sessions  *singleSlotCache
}

func newEngine(config *tls.Config) *Engine {
	pub, eng := net.Pipe()
	e := &Engine{
		publicSide: pub,
		engineSide: eng,
		outbound:   buffer.New(4096),
		inbound:    buffer.New(4096),
		config:     config,
		sessions:   &singleSlotCache{},
	}
	e.cond = sync.NewCond(&e.mu)
	go e.drainOutboundLoop()
	go e.feedInboundLoop()
	return e
}

// NewClient creates an Engine that will run the client half of a TLS
// handshake using config (cloned before use).
func NewClient(config *tls.Config) *Engine {
	cfg := config.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	e := newEngine(cfg)
	cfg.ClientSessionCache = e.sessions
	e.installVerifier()
	e.conn = tls.Client(e.engineSide, cfg)
	return e
}

// NewServer creates an Engine that will run the server half of a TLS
// handshake using config (cloned before use).
func NewServer(config *tls.Config) *Engine {
	cfg := config.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	e := newEngine(cfg)
	e.installVerifier()
	e.conn = tls.Server(e.engineSide, cfg)
	return e
}

func (e *Engine) installVerifier() {
	e.config.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		return e.verifyCommonNames(rawCerts)
	}
}

// AddVerifyCommonName registers an additional acceptable peer certificate
// common name. CN verification is additive to (and independent of) whatever
// InsecureSkipVerify/ordinary chain verification mode is configured: if one
// or more CNs are registered, the peer's leaf certificate must match one of
// them or the handshake fails.
func (e *Engine) AddVerifyCommonName(commonName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verifyCNs = append(e.verifyCNs, commonName)
}

func (e *Engine) verifyCommonNames(rawCerts [][]byte) error {
	e.mu.Lock()
	cns := append([]string(nil), e.verifyCNs...)
	e.mu.Unlock()

	if len(cns) == 0 || len(rawCerts) == 0 {
		return nil
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return err
	}
	for _, attr := range leaf.Subject.Names {
		if attr.Type.String() != "2.5.4.3" { // commonName
			continue
		}
		value, ok := attr.Value.(string)
		if !ok {
			continue
		}
		for _, cn := range cns {
			if value == cn {
				return nil
			}
		}
	}
	return moderr.ErrSslHandshake(errors.New("peer certificate common name not in verify list"))
}

// SetVirtualHost sets the SNI server name sent by a client engine.
func (e *Engine) SetVirtualHost(host string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.ServerName = host
}

// SetSession primes the engine's single-slot session cache so a subsequent
// client handshake can attempt resumption.
func (e *Engine) SetSession(session *tls.ClientSessionState) {
	e.sessions.put(session)
}

// GetSession returns the most recently established or resumed session, or
// nil if none is available yet.
func (e *Engine) GetSession() *tls.ClientSessionState {
	return e.sessions.get()
}

// DeriveTicketKeys expands secret via HKDF-SHA256 into one session ticket
// key and installs it as the server's sole active ticket key, so session
// tickets issued across engine instances sharing the same secret can be
// resumed against each other.
func (e *Engine) DeriveTicketKeys(secret []byte) error {
	var key [32]byte
	kdf := hkdf.New(sha256.New, secret, nil, []byte("modest tls session ticket key"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return err
	}
	e.config.SetSessionTicketKeys([][32]byte{key})
	return nil
}

// PerformHandshake drives the handshake to completion, pumped by whatever
// goroutine is concurrently calling Feed/DrainSend against the real
// transport. It returns Socket.SslHandshakeError on failure.
func (e *Engine) PerformHandshake(ctx context.Context) error {
	if err := e.conn.HandshakeContext(ctx); err != nil {
		return moderr.ErrSslHandshake(err)
	}
	return nil
}

// Send writes plaintext bytes through TLS; the resulting ciphertext becomes
// available via DrainSend.
func (e *Engine) Send(p []byte) (int, error) {
	n, err := e.conn.Write(p)
	if err != nil {
		return n, moderr.ErrSocketWrite(err)
	}
	return n, nil
}

// Receive reads decrypted bytes out of TLS, blocking until ciphertext
// arrives via Feed or the peer closes cleanly. It returns (0, nil) on a
// clean close.
func (e *Engine) Receive(p []byte) (int, error) {
	n, err := e.conn.Read(p)
	if err != nil {
		if isCleanClose(err) {
			return 0, nil
		}
		return n, moderr.ErrSocketRead(err)
	}
	return n, nil
}

// PendingSend reports how many ciphertext bytes are waiting to be drained
// and sent to the peer over the real transport.
func (e *Engine) PendingSend() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outbound.Length()
}

// DrainSend copies all currently pending outbound ciphertext into dst,
// consuming it from the engine. It does not block.
func (e *Engine) DrainSend(dst *buffer.ByteBuffer) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.outbound.Length()
	if n == 0 {
		return 0
	}
	tmp := make([]byte, n)
	e.outbound.Get(tmp, n)
	dst.Put(tmp, n, true)
	return n
}

// Feed delivers ciphertext bytes that arrived from the peer over the real
// transport into the engine.
func (e *Engine) Feed(data []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || len(data) == 0 {
		return 0
	}
	n := e.inbound.Put(data, len(data), true)
	e.cond.Broadcast()
	return n
}

// Close tears down both pipe endpoints and releases the pump goroutines.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()

	err1 := e.publicSide.Close()
	err2 := e.engineSide.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (e *Engine) drainOutboundLoop() {
	tmp := make([]byte, 4096)
	for {
		n, err := e.publicSide.Read(tmp)
		if n > 0 {
			e.mu.Lock()
			e.outbound.Put(tmp[:n], n, true)
			e.cond.Broadcast()
			e.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (e *Engine) feedInboundLoop() {
	for {
		e.mu.Lock()
		for e.inbound.Length() == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		n := e.inbound.Length()
		tmp := make([]byte, n)
		e.inbound.Get(tmp, n)
		e.mu.Unlock()

		if _, err := e.publicSide.Write(tmp); err != nil {
			return
		}
	}
}

func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// singleSlotCache is a tls.ClientSessionCache holding exactly one session,
// standing in for the opaque, reference-counted session handles the
// original engine exposed (here, a plain GC-managed value is sufficient).
type singleSlotCache struct {
	mu      sync.Mutex
	current *tls.ClientSessionState
}

func (c *singleSlotCache) Get(_ string) (*tls.ClientSessionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, false
	}
	return c.current, true
}

func (c *singleSlotCache) Put(_ string, session *tls.ClientSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = session
}

func (c *singleSlotCache) put(session *tls.ClientSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = session
}

func (c *singleSlotCache) get() *tls.ClientSessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
