package sftp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/gobeaver/imageguard"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Adapter opens files on an SFTP server as candidate uploads.
type Adapter struct {
	mu       sync.Mutex
	client   *sftp.Client
	sshConn  *ssh.Client
	basePath string
}

// Config holds SFTP connection configuration
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded private key
	BasePath   string
}

// New dials the server described by cfg.
func New(cfg Config) (*Adapter, error) {
	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: accept a known_hosts file
	}

	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(cfg.Password))
	}

	if len(sshConfig.Auth) == 0 {
		return nil, fmt.Errorf("no authentication method provided")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	sshConn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH: %w", err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	a := NewWithClient(client, cfg.BasePath)
	a.sshConn = sshConn
	return a, nil
}

// NewWithClient wraps an established SFTP session. Close closes client.
func NewWithClient(client *sftp.Client, basePath string) *Adapter {
	return &Adapter{client: client, basePath: basePath}
}

// Close closes the SFTP and SSH connections
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, err)
		}
		a.client = nil
	}
	if a.sshConn != nil {
		if err := a.sshConn.Close(); err != nil {
			errs = append(errs, err)
		}
		a.sshConn = nil
	}
	return errors.Join(errs...)
}

// Open implements imageguard.Source. Reads go straight to the remote file
// with ReadAt, so only inspected ranges cross the wire.
func (a *Adapter) Open(ctx context.Context, filePath string) (imageguard.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return nil, errors.New("sftp source is closed")
	}

	// Rooting the path first keeps ".." from climbing out of basePath.
	full := path.Join(a.basePath, path.Join("/", filePath))

	info, err := client.Stat(full)
	if err != nil {
		return nil, mapSFTPError(filePath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filePath)
	}

	f, err := client.Open(full)
	if err != nil {
		return nil, mapSFTPError(filePath, err)
	}

	return &file{
		File:     f,
		name:     path.Base(full),
		mimeType: contentType(full),
		size:     info.Size(),
	}, nil
}

type file struct {
	*sftp.File
	name     string
	mimeType string
	size     int64
}

func (f *file) Name() string     { return f.name }
func (f *file) MIMEType() string { return f.mimeType }
func (f *file) Size() int64      { return f.size }

func mapSFTPError(filePath string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("open %s: %w", filePath, imageguard.ErrNotExist)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("open %s: %w", filePath, imageguard.ErrNotAllowed)
	}
	return fmt.Errorf("open %s: %w", filePath, err)
}

func contentType(p string) string {
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case "":
		return ""
	}
	return mime.TypeByExtension(ext)
}

var _ imageguard.Source = (*Adapter)(nil)
