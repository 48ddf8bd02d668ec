package app

import (
	"cmp"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/quicksync/internal/protocol"
	"github.com/1ureka/quicksync/internal/transfer"
	"github.com/1ureka/quicksync/internal/util"
)

// MessageKind distinguishes text messages from file messages.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

// Message is one item of local content offered to the session. File content
// stays on disk and is read when requested.
type Message struct {
	ID       string
	Kind     MessageKind
	Text     string
	Path     string
	Filename string
	FileSize int64
	SentAt   time.Time
}

// Catalog is the local, time-ordered collection of messages this device can
// serve. It implements transfer.Fulfiller.
type Catalog struct {
	messages *util.SortedMap[string, Message]
	now      func() time.Time
}

var _ transfer.Fulfiller = (*Catalog)(nil)

func NewCatalog() *Catalog {
	return &Catalog{
		messages: util.NewSortedMap(
			func(m Message) string { return m.ID },
			func(a, b Message) int {
				if c := a.SentAt.Compare(b.SentAt); c != 0 {
					return c
				}
				return cmp.Compare(a.ID, b.ID)
			},
		),
		now: time.Now,
	}
}

// AddText offers text under id. An empty id is replaced by a new UUID; UUID
// ids are stored in canonical form, like every id the catalog looks up.
func (c *Catalog) AddText(id, text string) Message {
	m := Message{ID: orNewID(id), Kind: KindText, Text: text, SentAt: c.now()}
	c.messages.Upsert(m)
	return m
}

// AddFile offers the file at path under id, which must be a UUID since file
// chunks carry it in binary form. An empty id is replaced by a new UUID.
func (c *Catalog) AddFile(id, path string) (Message, error) {
	id = orNewID(id)
	if err := protocol.ValidateChunkID(id); err != nil {
		return Message{}, fmt.Errorf("file message id %q is not a UUID", id)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Message{}, fmt.Errorf("failed to add file: %w", err)
	}
	if info.IsDir() {
		return Message{}, fmt.Errorf("failed to add file: %s is a directory", path)
	}

	m := Message{
		ID:       id,
		Kind:     KindFile,
		Path:     path,
		Filename: filepath.Base(path),
		FileSize: info.Size(),
		SentAt:   c.now(),
	}
	c.messages.Upsert(m)
	return m, nil
}

func (c *Catalog) Remove(id string) bool {
	return c.messages.Remove(protocol.CanonicalID(id))
}

func (c *Catalog) Get(id string) (Message, bool) {
	return c.messages.Get(protocol.CanonicalID(id))
}

// List returns the messages oldest first.
func (c *Catalog) List() []Message {
	return c.messages.All()
}

// FulfillContent returns the content of id: text as transfer.Text, files as
// a transfer.Blob typed from the file extension.
func (c *Catalog) FulfillContent(_ context.Context, id string) (transfer.Content, error) {
	m, ok := c.Get(id)
	if !ok {
		return nil, transfer.ErrNotFound
	}

	switch m.Kind {
	case KindText:
		return transfer.Text(m.Text), nil
	case KindFile:
		data, err := os.ReadFile(m.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", m.Path, err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(m.Filename))
		if mimeType == "" {
			mimeType = transfer.MIMEOctetStream
		}
		return transfer.Blob{Data: data, MIMEType: mimeType}, nil
	default:
		return nil, transfer.ErrNotFound
	}
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return protocol.CanonicalID(id)
}
