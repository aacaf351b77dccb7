package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// ========================================
// defaultLogger 并发读写
// ========================================

func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	const goroutines = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", FieldSessionID, "ses_1")
			_ = Get()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()

	wg.Wait()
	Init("production")
}

func TestGetReturnsCurrentLogger(t *testing.T) {
	Init("production")
	if Get() == nil {
		t.Fatal("Get() returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseLevel(tt.raw); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	origLogger := getLogger()
	defer storeLogger(origLogger)
	defer SetLevel(slog.LevelInfo)

	storeLogger(newLogger(false, &buf))
	SetLevel(slog.LevelInfo)
	Debug("hidden debug line")
	if strings.Contains(buf.String(), "hidden debug line") {
		t.Fatalf("debug line emitted at info level: %s", buf.String())
	}

	SetLevel(slog.LevelDebug)
	Debug("visible debug line", FieldEventType, "session.idle")
	out := buf.String()
	if !strings.Contains(out, "visible debug line") || !strings.Contains(out, `"event_type":"session.idle"`) {
		t.Fatalf("debug line missing after SetLevel(Debug): %s", out)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	Init("production")
	if FromContext(context.Background()) != Get() {
		t.Error("FromContext without logger should return default logger")
	}
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Error("FromContext should return injected logger")
	}
}

func TestShutdownFileHandlerSafety(t *testing.T) {
	// 未初始化文件时调用不应 panic
	ShutdownFileHandler()
	ShutdownFileHandler()
}

// InitWithFile 重复调用应关闭旧文件
func TestInitWithFile_ClosesOldFile(t *testing.T) {
	dir := t.TempDir()

	if err := InitWithFile(dir); err != nil {
		t.Fatalf("first InitWithFile: %v", err)
	}

	logFileMu.Lock()
	oldFile := logFile
	logFileMu.Unlock()
	if oldFile == nil {
		t.Fatal("logFile should not be nil after InitWithFile")
	}

	if err := InitWithFile(dir); err != nil {
		t.Fatalf("second InitWithFile: %v", err)
	}

	if _, err := oldFile.Stat(); err == nil {
		t.Error("old logFile should be closed after second InitWithFile, but Stat succeeded")
	}

	ShutdownFileHandler()
	Init("production")
}

func TestFatal_CallsExitFunc(t *testing.T) {
	exitCalled := false
	exitCode := 0
	origExit := exitFunc
	exitFunc = func(code int) {
		exitCalled = true
		exitCode = code
	}
	defer func() { exitFunc = origExit }()

	origLogger := getLogger()
	defer storeLogger(origLogger)
	storeLogger(newLogger(false, &bytes.Buffer{}))

	Fatal("test fatal", "key", "value")

	if !exitCalled {
		t.Fatal("exitFunc should have been called")
	}
	if exitCode != 1 {
		t.Errorf("exit code = %d, want 1", exitCode)
	}
}
