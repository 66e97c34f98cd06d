package publish

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPublishDir  = "www/"
	DefaultPublishFile = "index.php"
)

// SCPConfig describes where the page is uploaded
type SCPConfig struct {
	Host           string // host or host:port
	User           string
	KeyFile        string
	KnownHostsFile string
	Dir            string
	File           string
	Timeout        time.Duration
}

// SCPPublisher uploads the rendered page to a web host over SSH
type SCPPublisher struct {
	cfg       SCPConfig
	sshConfig *ssh.ClientConfig
}

// NewSCPPublisher creates a new publisher, reading the private key and known hosts up front
func NewSCPPublisher(cfg SCPConfig) (*SCPPublisher, error) {
	if cfg.Host == "" {
		return nil, errors.New("publish host is required")
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultPublishDir
	}
	if cfg.File == "" {
		cfg.File = DefaultPublishFile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if _, _, err := net.SplitHostPort(cfg.Host); err != nil {
		cfg.Host = net.JoinHostPort(cfg.Host, "22")
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeys, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}

	return &SCPPublisher{
		cfg: cfg,
		sshConfig: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         cfg.Timeout,
		},
	}, nil
}

// Publish uploads content as the configured file and makes it world readable
func (p *SCPPublisher) Publish(ctx context.Context, content []byte) error {
	log.Printf("Uploading %d bytes to %s:%s", len(content), p.cfg.Host, path.Join(p.cfg.Dir, p.cfg.File))

	client, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := upload(client, p.cfg.Dir, p.cfg.File, content); err != nil {
		return fmt.Errorf("failed to upload page: %w", err)
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	if out, err := session.CombinedOutput("chmod 644 " + shellQuote(path.Join(p.cfg.Dir, p.cfg.File))); err != nil {
		return fmt.Errorf("failed to set permissions: %w: %s", err, bytes.TrimSpace(out))
	}

	log.Printf("Published %s", p.cfg.File)
	return nil
}

func (p *SCPPublisher) dial(ctx context.Context) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", p.cfg.Host, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, p.cfg.Host, p.sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish ssh connection: %w", err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func upload(client *ssh.Client, dir, name string, content []byte) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	if err := session.Start("scp -t " + shellQuote(dir)); err != nil {
		return fmt.Errorf("failed to start scp: %w", err)
	}

	if err := writeSCP(stdin, stdout, name, content); err != nil {
		stdin.Close()
		return err
	}
	stdin.Close()
	return session.Wait()
}

// writeSCP speaks the source side of the SCP protocol for a single file
func writeSCP(w io.Writer, r io.Reader, name string, content []byte) error {
	acks := bufio.NewReader(r)

	if err := readAck(acks); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "C0644 %d %s\n", len(content), name); err != nil {
		return err
	}
	if err := readAck(acks); err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	return readAck(acks)
}

// readAck consumes one response of the remote sink. 1 and 2 carry a message line.
func readAck(r *bufio.Reader) error {
	code, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read scp response: %w", err)
	}
	if code == 0 {
		return nil
	}

	msg, _ := r.ReadString('\n')
	return fmt.Errorf("scp error (%d): %s", code, strings.TrimSpace(msg))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
