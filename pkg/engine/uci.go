package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UCIEngine represents a UCI-compatible chess engine running as a subprocess
type UCIEngine struct {
	ID uuid.UUID

	cmd *exec.Cmd

	stdinPipe  io.WriteCloser
	stdoutPipe io.ReadCloser
	reader     *bufio.Reader

	writeMu  sync.Mutex
	searchMu sync.Mutex

	quitChan  chan struct{}
	closeOnce sync.Once
	bestMoves chan string
	readyChan chan struct{}
	done      chan struct{}

	logger *zap.Logger
}

// NewUCIEngine starts the engine process and waits until it answers "uciok".
// enginePath is the path to the engine executable (e.g. "stockfish").
func NewUCIEngine(ctx context.Context, enginePath string, logger *zap.Logger) (*UCIEngine, error) {
	cmd := exec.Command(enginePath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("StdoutPipe error: %w", err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("StdinPipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrEngineUnavailable, enginePath, err)
	}

	e := &UCIEngine{
		ID:         uuid.New(),
		cmd:        cmd,
		stdinPipe:  stdin,
		stdoutPipe: stdout,
		reader:     bufio.NewReader(stdout),
		quitChan:   make(chan struct{}),
		bestMoves:  make(chan string, 1),
		readyChan:  make(chan struct{}, 1),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("engine", enginePath)),
	}

	go e.readLoop()

	if err := e.writeCommand("uci"); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("error sending uci cmd: %w", err)
	}

	if err := e.waitReady(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}

	return e, nil
}

func (e *UCIEngine) readLoop() {
	defer close(e.done)

	for {
		line, err := e.reader.ReadString('\n')
		if err != nil {
			select {
			case <-e.quitChan:
			default:
				if err == io.EOF {
					e.logger.Warn("Engine closed stdout")
				} else {
					e.logger.Error("Error reading engine output", zap.Error(err))
				}
			}
			return
		}
		line = strings.TrimSpace(line)

		e.logger.Debug("ENGINE>", zap.String("line", line))

		switch {
		case line == "uciok" || line == "readyok":
			select {
			case e.readyChan <- struct{}{}:
			default:
			}
		case strings.HasPrefix(line, "bestmove"):
			bestMove, ok := parseBestMove(line)
			if !ok {
				continue
			}
			// Send bestMove into the channel without blocking.
			select {
			case e.bestMoves <- bestMove:
			default:
			}
		}
	}
}

// parseBestMove extracts the move from a "bestmove e2e4 [ponder e7e5]" line
func parseBestMove(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "bestmove" {
		return "", false
	}
	return fields[1], true
}

func (e *UCIEngine) waitReady(ctx context.Context) error {
	select {
	case <-e.readyChan:
		return nil
	case <-e.done:
		return fmt.Errorf("%w: engine exited during handshake", ErrEngineUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("%w: handshake: %v", ErrEngineTimeout, ctx.Err())
	}
}

func (e *UCIEngine) writeCommand(cmd string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.logger.Debug("ENGINE<", zap.String("line", cmd))
	_, err := io.WriteString(e.stdinPipe, cmd+"\n")
	return err
}

// SetOption sends a "setoption" command
func (e *UCIEngine) SetOption(name, value string) error {
	return e.writeCommand(fmt.Sprintf("setoption name %s value %s", name, value))
}

// BestMove searches fen within the budget in s and returns the engine's move
// in UCI notation. Searches on one engine are serialized.
func (e *UCIEngine) BestMove(ctx context.Context, fen string, s Settings) (string, error) {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()

	// A search abandoned by a previous timeout may still have reported late.
	select {
	case <-e.bestMoves:
	default:
	}

	if s.Skill > 0 {
		if err := e.SetOption("Skill Level", strconv.Itoa(s.Skill)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
	}

	if err := e.writeCommand("isready"); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if err := e.waitReady(ctx); err != nil {
		return "", err
	}

	if err := e.writeCommand("position fen " + fen); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if err := e.writeCommand(goCommand(s)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	select {
	case mv := <-e.bestMoves:
		if mv == "(none)" || mv == "0000" {
			return "", ErrNoMove
		}
		return mv, nil
	case <-e.done:
		return "", fmt.Errorf("%w: engine exited during search", ErrEngineUnavailable)
	case <-ctx.Done():
		_ = e.writeCommand("stop")
		return "", fmt.Errorf("%w: %v", ErrEngineTimeout, ctx.Err())
	}
}

func goCommand(s Settings) string {
	parts := []string{"go"}
	if s.Depth > 0 {
		parts = append(parts, "depth", strconv.Itoa(s.Depth))
	}
	if s.MoveTime > 0 {
		parts = append(parts, "movetime", strconv.FormatInt(s.MoveTime.Milliseconds(), 10))
	}
	if len(parts) == 1 {
		parts = append(parts, "depth", "1")
	}
	return strings.Join(parts, " ")
}

// Close stops the engine process
func (e *UCIEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.quitChan)
		_ = e.writeCommand("quit")
		_ = e.stdinPipe.Close()
		err = e.cmd.Wait()
	})
	return err
}
