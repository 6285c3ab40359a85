package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ChatEntry — одна запись журнала чата.
type ChatEntry struct {
	Category  string    `json:"category" bson:"category"`
	MapName   string    `json:"map_name,omitempty" bson:"map_name,omitempty"`
	Sender    string    `json:"sender" bson:"sender"`
	Recipient string    `json:"recipient,omitempty" bson:"recipient,omitempty"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// ChatLog — долговечный журнал чата для аудита и повтора.
// Каждое сообщение пишется до доставки получателям.
type ChatLog interface {
	Append(ctx context.Context, entry ChatEntry) error
	Close() error
}

// FileChatLog пишет JSON-строки в файлы, разделённые по категории
// (и по имени карты для map-чата).
type FileChatLog struct {
	mu    sync.Mutex
	dir   string
	files map[string]*os.File
}

// NewFileChatLog создаёт журнал в <dataDir>/chat.
func NewFileChatLog(dataDir string) (*FileChatLog, error) {
	dir := filepath.Join(dataDir, "chat")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога журнала чата: %w", err)
	}
	return &FileChatLog{dir: dir, files: make(map[string]*os.File)}, nil
}

// Append дописывает запись в файл категории.
func (fl *FileChatLog) Append(ctx context.Context, entry ChatEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	name := entry.Category
	if entry.Category == "map" && entry.MapName != "" {
		name = "map_" + entry.MapName
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	file, ok := fl.files[name]
	if !ok {
		var err error
		file, err = os.OpenFile(filepath.Join(fl.dir, name+".log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("ошибка открытия журнала чата %s: %w", name, err)
		}
		fl.files[name] = file
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("ошибка записи журнала чата: %w", err)
	}
	return nil
}

// Close закрывает все открытые файлы журнала.
func (fl *FileChatLog) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	var lastErr error
	for _, f := range fl.files {
		if err := f.Close(); err != nil {
			lastErr = err
		}
	}
	fl.files = make(map[string]*os.File)
	return lastErr
}
