package scanner

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

const (
	// clamd INSTREAM chunk size. clamd's own StreamMaxLength applies to
	// the total, not the chunk, so this is just a streaming buffer size.
	clamdChunkSize = 64 * 1024

	defaultClamdTimeout = 2 * time.Minute
)

// ClamdScanner speaks the clamd INSTREAM protocol over TCP: a zINSTREAM
// command, length-prefixed chunks, a zero-length terminator, then a single
// null-terminated verdict line.
type ClamdScanner struct {
	addr    string
	timeout time.Duration
}

// NewClamdScanner returns a scanner talking to clamd at addr
// (host:port).
func NewClamdScanner(addr string) *ClamdScanner {
	return &ClamdScanner{addr: addr, timeout: defaultClamdTimeout}
}

func (s *ClamdScanner) Mode() string { return "clamd" }

// Ping checks daemon availability with the PING command.
func (s *ClamdScanner) Ping(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial clamd: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := conn.Write([]byte("zPING\x00")); err != nil {
		return fmt.Errorf("ping clamd: %w", err)
	}
	reply, err := readReply(conn)
	if err != nil {
		return fmt.Errorf("read clamd pong: %w", err)
	}
	if reply != "PONG" {
		return fmt.Errorf("unexpected clamd ping reply %q", reply)
	}
	return nil
}

// Scan streams the file to clamd and parses the verdict line. A FOUND
// verdict yields clean=false with the signature name in message.
func (s *ClamdScanner) Scan(ctx context.Context, path string) (bool, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, "", fmt.Errorf("open file for scan: %w", err)
	}
	defer f.Close()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return false, "", fmt.Errorf("dial clamd: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.timeout))

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return false, "", fmt.Errorf("send INSTREAM: %w", err)
	}

	buf := make([]byte, clamdChunkSize)
	var prefix [4]byte
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(prefix[:], uint32(n))
			if _, err := conn.Write(prefix[:]); err != nil {
				return false, "", fmt.Errorf("send chunk size: %w", err)
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return false, "", fmt.Errorf("send chunk: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return false, "", fmt.Errorf("read file for scan: %w", readErr)
		}
	}
	binary.BigEndian.PutUint32(prefix[:], 0)
	if _, err := conn.Write(prefix[:]); err != nil {
		return false, "", fmt.Errorf("send stream terminator: %w", err)
	}

	reply, err := readReply(conn)
	if err != nil {
		return false, "", fmt.Errorf("read clamd verdict: %w", err)
	}
	return parseVerdict(reply)
}

// readReply reads one null-terminated clamd reply line.
func readReply(conn net.Conn) (string, error) {
	reply, err := bufio.NewReader(conn).ReadString('\x00')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(reply, "\x00\n"), nil
}

// parseVerdict interprets a clamd reply such as "stream: OK" or
// "stream: Eicar-Test-Signature FOUND".
func parseVerdict(reply string) (bool, string, error) {
	switch {
	case strings.HasSuffix(reply, "OK"):
		return true, "", nil
	case strings.HasSuffix(reply, "FOUND"):
		sig := strings.TrimSuffix(reply, " FOUND")
		if i := strings.Index(sig, ": "); i >= 0 {
			sig = sig[i+2:]
		}
		return false, sig, nil
	case strings.HasSuffix(reply, "ERROR"):
		return false, "", fmt.Errorf("clamd error: %s", reply)
	default:
		return false, "", fmt.Errorf("unparseable clamd reply %q", reply)
	}
}
