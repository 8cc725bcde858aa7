// Package api implements the REST API for parsing, checking and running
// update scripts.
package api

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/amend/pkg/commands"
	"github.com/lemonberrylabs/amend/pkg/parser"
	"github.com/lemonberrylabs/amend/pkg/permissions"
	"github.com/lemonberrylabs/amend/pkg/runtime"
	"github.com/lemonberrylabs/amend/pkg/store"
	"github.com/lemonberrylabs/amend/pkg/types"
	"github.com/lemonberrylabs/amend/pkg/ui"
)

// Options configures a Server.
type Options struct {
	Registry    *commands.Registry
	Permissions *permissions.Table
	Store       *store.Store

	// Output, if set, is the progress sink the registered commands write
	// to. It is cleared before each run and its contents become the run's
	// output.
	Output *ui.Recorder
}

// Server is the API server.
type Server struct {
	app    *fiber.App
	reg    *commands.Registry
	perms  *permissions.Table
	store  *store.Store
	output *ui.Recorder

	// runMu serializes everything that dispatches into the registry.
	runMu sync.Mutex

	scriptsMu sync.RWMutex
	scripts   map[string]string // loaded scripts by name
}

// New creates a new API server.
func New(opts Options) *Server {
	srv := &Server{
		reg:     opts.Registry,
		perms:   opts.Permissions,
		store:   opts.Store,
		output:  opts.Output,
		scripts: make(map[string]string),
	}
	if srv.perms == nil {
		srv.perms = permissions.NewTable()
	}
	if srv.store == nil {
		srv.store = store.New()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             2 * parser.MaxSourceSize,
		ErrorHandler:          errorHandler,
	})

	app.Get("/v1/commands", srv.listCommands)

	app.Get("/v1/scripts", srv.listScripts)
	app.Post("/v1/scripts\\:parse", srv.parseScript)
	app.Post("/v1/scripts\\:check", srv.checkScript)

	app.Post("/v1/runs", srv.createRun)
	app.Get("/v1/runs", srv.listRuns)
	app.Get("/v1/runs/:run", srv.getRun)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

var statusNames = map[int]string{
	fiber.StatusBadRequest:            "INVALID_ARGUMENT",
	fiber.StatusNotFound:              "NOT_FOUND",
	fiber.StatusMethodNotAllowed:      "UNIMPLEMENTED",
	fiber.StatusRequestEntityTooLarge: "OUT_OF_RANGE",
}

// errorHandler writes every handler error in the JSON error envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	status, ok := statusNames[code]
	if !ok {
		status = "INTERNAL"
	}
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": err.Error(),
			"status":  status,
		},
	})
}

// scriptError reports a parse or probe failure.
func scriptError(err error) error {
	if types.IsKind(err, types.TagInternalInvariantError) {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}

// --- Command Handlers ---

func (s *Server) listCommands(c *fiber.Ctx) error {
	s.runMu.Lock()
	entries := s.reg.Entries()
	s.runMu.Unlock()

	items := make([]fiber.Map, len(entries))
	for i, h := range entries {
		items[i] = fiber.Map{
			"name":         h.Name(),
			"kind":         h.Kind().String(),
			"argumentType": h.ArgumentType().String(),
		}
	}
	return c.JSON(fiber.Map{
		"commands": items,
	})
}

// --- Script Handlers ---

type scriptRequest struct {
	Source string `json:"source"`
	Script string `json:"script"` // name of a loaded script, used when Source is empty
}

func (s *Server) source(c *fiber.Ctx) (string, error) {
	var req scriptRequest
	if err := c.BodyParser(&req); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Source != "" {
		return req.Source, nil
	}
	if req.Script == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "source or script is required")
	}
	s.scriptsMu.RLock()
	src, ok := s.scripts[req.Script]
	s.scriptsMu.RUnlock()
	if !ok {
		return "", fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("script '%s' not found", req.Script))
	}
	return src, nil
}

func (s *Server) listScripts(c *fiber.Ctx) error {
	s.scriptsMu.RLock()
	names := make([]string, 0, len(s.scripts))
	for name := range s.scripts {
		names = append(names, name)
	}
	s.scriptsMu.RUnlock()
	sort.Strings(names)
	return c.JSON(fiber.Map{
		"scripts": names,
	})
}

func (s *Server) parseScript(c *fiber.Ctx) error {
	src, err := s.source(c)
	if err != nil {
		return err
	}
	s.runMu.Lock()
	list, err := parser.Parse([]byte(src), s.reg)
	s.runMu.Unlock()
	if err != nil {
		return scriptError(err)
	}
	return c.JSON(fiber.Map{
		"commands": list.Len(),
		"ast":      list.String(),
	})
}

func (s *Server) checkScript(c *fiber.Ctx) error {
	src, err := s.source(c)
	if err != nil {
		return err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	list, err := parser.Parse([]byte(src), s.reg)
	if err != nil {
		return scriptError(err)
	}
	reqs, err := runtime.NewEngine(s.reg).Probe(list)
	if err != nil {
		return scriptError(err)
	}
	conflicts, err := s.perms.CountConflicts(reqs, true)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	items := make([]fiber.Map, reqs.Len())
	for i, r := range reqs.Requests() {
		items[i] = fiber.Map{
			"path":      r.Path,
			"recursive": r.Recursive,
			"requested": permissions.Format(r.Requested),
			"allowed":   permissions.Format(r.Allowed),
			"conflict":  r.Requested&^r.Allowed != 0,
		}
	}
	return c.JSON(fiber.Map{
		"requests":  items,
		"conflicts": conflicts,
	})
}

// --- Run Handlers ---

func (s *Server) createRun(c *fiber.Ctx) error {
	src, err := s.source(c)
	if err != nil {
		return err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	list, err := parser.Parse([]byte(src), s.reg)
	if err != nil {
		return scriptError(err)
	}

	run := s.store.CreateRun(src)
	if s.output != nil {
		s.output.Reset()
	}
	execErr := runtime.NewEngine(s.reg).Execute(c.UserContext(), list)
	output := ""
	if s.output != nil {
		output = s.output.Output()
	}
	if execErr != nil {
		log.Printf("Run %s failed: %v", run.ID, execErr)
	}

	done, err := s.store.FinishRun(run.ID, runtime.ResultCode(execErr), output, execErr)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(done)
}

func (s *Server) listRuns(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"runs": s.store.ListRuns(),
	})
}

func (s *Server) getRun(c *fiber.Ctx) error {
	run, err := s.store.GetRun(c.Params("run"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.JSON(run)
}

// --- Directory Loading ---

var validScriptName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// scriptExtensions are the file extensions LoadDir picks up.
var scriptExtensions = map[string]bool{
	".amend":  true,
	".script": true,
}

// LoadDir parses every script file in dir and makes it available to runs
// by name. The file name without its extension, lowercased, becomes the
// script name. Files that fail to parse are skipped with a warning.
func (s *Server) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading scripts directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if !scriptExtensions[strings.ToLower(ext)] {
			continue
		}

		base := strings.TrimSuffix(name, ext)
		scriptName := strings.ToLower(base)
		if scriptName != base {
			log.Printf("Warning: lowercased script name %q (from file %q)", scriptName, name)
		}
		if !validScriptName.MatchString(scriptName) {
			log.Printf("Warning: skipping file %q: invalid script name %q", name, scriptName)
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Printf("Warning: could not read %q: %v", name, err)
			continue
		}
		s.runMu.Lock()
		_, err = parser.Parse(data, s.reg)
		s.runMu.Unlock()
		if err != nil {
			log.Printf("Warning: could not parse %q: %v", name, err)
			continue
		}

		s.scriptsMu.Lock()
		s.scripts[scriptName] = string(data)
		s.scriptsMu.Unlock()
		loaded++
		log.Printf("Loaded script %q from %s", scriptName, name)
	}

	log.Printf("Loaded %d script(s) from %s", loaded, dir)
	return nil
}
