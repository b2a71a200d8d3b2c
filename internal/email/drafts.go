package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Client is a single-account IMAP client used to store confirmation
// drafts. Access is mutex-serialized; the connection is established
// lazily and re-established after errors.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient creates an IMAP drafts client for the given account.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// connectLocked dials and authenticates. Caller must hold c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))

	var opts imapclient.Options
	if c.cfg.TLS {
		opts.TLSConfig = &tls.Config{ServerName: c.cfg.Host}
	}

	c.logger.Debug("connecting to IMAP server", "host", c.cfg.Host, "port", c.cfg.Port, "tls", c.cfg.TLS)

	var client *imapclient.Client
	var err error
	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}

	c.client = client
	return nil
}

// Close shuts down the IMAP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// CreateDraft composes a message and appends it to the drafts mailbox
// with the \Draft flag. Returns a stable draft identifier derived from
// the mailbox UID.
func (c *Client) CreateDraft(ctx context.Context, to, subject, body string) (string, error) {
	raw, err := Compose(ComposeOptions{
		From:    c.cfg.From,
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return "", fmt.Errorf("compose draft: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		if err := c.connectLocked(ctx); err != nil {
			return "", err
		}
	}

	uid, err := c.appendLocked(raw)
	if err != nil {
		// One reconnect attempt: the lazy connection may have gone
		// stale between turns.
		c.logger.Warn("draft append failed, reconnecting", "error", err)
		if err := c.connectLocked(ctx); err != nil {
			return "", err
		}
		uid, err = c.appendLocked(raw)
		if err != nil {
			return "", err
		}
	}

	mailbox := c.cfg.draftsMailbox()
	draftID := fmt.Sprintf("%s/%d", mailbox, uid)
	c.logger.Info("draft created", "mailbox", mailbox, "uid", uid, "to", to)
	return draftID, nil
}

// appendLocked performs the APPEND. Caller must hold c.mu.
func (c *Client) appendLocked(raw []byte) (imap.UID, error) {
	mailbox := c.cfg.draftsMailbox()

	cmd := c.client.Append(mailbox, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft},
		Time:  time.Now(),
	})
	if _, err := cmd.Write(raw); err != nil {
		return 0, fmt.Errorf("write draft to %s: %w", mailbox, err)
	}
	if err := cmd.Close(); err != nil {
		return 0, fmt.Errorf("close append: %w", err)
	}
	data, err := cmd.Wait()
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", mailbox, err)
	}
	return data.UID, nil
}
