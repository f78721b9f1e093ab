package tlssocket

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/r3e-labs/modest/pkg/buffer"
)

func selfSignedCert(t *testing.T, commonName string) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{commonName},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// bridge pumps ciphertext between two Engines until ctx is canceled,
// standing in for the real transport socket the engines would otherwise be
// bridged to.
func bridge(ctx context.Context, a, b *Engine) {
	pump := func(src, dst *Engine) {
		scratch := buffer.New(4096)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if n := src.DrainSend(scratch); n > 0 {
				data := make([]byte, scratch.Length())
				scratch.Get(data, len(data))
				dst.Feed(data)
				continue
			}
			time.Sleep(time.Millisecond)
		}
	}
	go pump(a, b)
	go pump(b, a)
}

func TestHandshakeSucceedsWithMatchingCommonName(t *testing.T) {
	cert := selfSignedCert(t, "example.test")

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	server := NewServer(serverCfg)
	defer server.Close()

	client := NewClient(&tls.Config{InsecureSkipVerify: true})
	client.SetVirtualHost("example.test")
	client.AddVerifyCommonName("example.test")
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bridge(ctx, client, server)

	errCh := make(chan error, 2)
	go func() { errCh <- server.PerformHandshake(ctx) }()
	go func() { errCh <- client.PerformHandshake(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("handshake failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("handshake timed out")
		}
	}

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1024)
		total := 0
		for total < len(buf) {
			n, err := server.Receive(buf[total:])
			if err != nil {
				done <- err
				return
			}
			if n == 0 {
				done <- nil
				return
			}
			total += n
		}
		if total == len(payload) && string(buf) == string(payload) {
			done <- nil
		}
	}()

	if _, err := client.Send(payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receive timed out")
	}
}

func TestHandshakeFailsWithWrongCommonName(t *testing.T) {
	cert := selfSignedCert(t, "example.test")

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	server := NewServer(serverCfg)
	defer server.Close()

	client := NewClient(&tls.Config{InsecureSkipVerify: true})
	client.SetVirtualHost("example.test")
	client.AddVerifyCommonName("wrong.test")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bridge(ctx, client, server)

	errCh := make(chan error, 2)
	go func() { errCh <- server.PerformHandshake(ctx) }()
	go func() { errCh <- client.PerformHandshake(ctx) }()

	var clientErr error
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				clientErr = err
			}
		case <-time.After(5 * time.Second):
			t.Fatal("handshake timed out")
		}
	}

	if clientErr == nil {
		t.Fatal("expected handshake failure with mismatched common name")
	}
}
