// Package formula evaluates the statements of a test plan. It supports the
// small formula subset the runtime needs on top of an embedded JavaScript VM:
// function calls, comparisons, arithmetic, string concatenation, variables and
// Control.Property reads.
package formula

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// Config wires an Evaluator to the run.
type Config struct {
	Logger *zap.Logger
	// ReadProperty resolves Control.Property reads.
	ReadProperty func(ctx context.Context, path schemas.ItemPath) (interface{}, error)
	// RouteNamespace names the provider claiming a namespace.
	RouteNamespace func(ns string) (string, error)
	// ActiveProvider is the provider of the current run.
	ActiveProvider string
}

type namespaceBinding struct {
	obj *goja.Object
	fns map[string]schemas.Function
}

// Evaluator runs statements against one VM. Variables set by a statement are
// visible to every later statement. It is not safe for concurrent use; calls
// are serialized.
type Evaluator struct {
	mu         sync.Mutex
	logger     *zap.Logger
	cfg        Config
	vm         *goja.Runtime
	functions  map[string]schemas.Function
	namespaces map[string]*namespaceBinding
	controls   map[string]schemas.ControlRecord
	vars       map[string]interface{}

	pendingMu sync.Mutex
	pending   []map[string]schemas.ControlRecord

	// ctx and callErr are only valid while a statement runs.
	ctx     context.Context
	callErr error
}

var _ schemas.FunctionRegistrar = (*Evaluator)(nil)

// New creates an Evaluator with an empty environment.
func New(cfg Config) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		logger:     logger.Named("formula"),
		cfg:        cfg,
		vm:         goja.New(),
		functions:  make(map[string]schemas.Function),
		namespaces: make(map[string]*namespaceBinding),
		controls:   make(map[string]schemas.ControlRecord),
		vars:       make(map[string]interface{}),
		ctx:        context.Background(),
	}
}

// RegisterFunction binds a global function.
func (e *Evaluator) RegisterFunction(fn schemas.Function) error {
	if fn.Name == "" || fn.Call == nil {
		return errors.New("function needs a name and an implementation")
	}
	if strings.Contains(fn.Name, ".") {
		return fmt.Errorf("global function name %q must not contain a dot", fn.Name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.functions[fn.Name]; exists {
		return fmt.Errorf("function %q is already registered", fn.Name)
	}
	if err := e.vm.Set(fn.Name, e.native(fn)); err != nil {
		return fmt.Errorf("binding function %q: %w", fn.Name, err)
	}
	e.functions[fn.Name] = fn
	e.logger.Debug("Function registered.", zap.String("name", fn.Name))
	return nil
}

// RegisterNamespaceFunction binds fn as ns.Name.
func (e *Evaluator) RegisterNamespaceFunction(ns string, fn schemas.Function) error {
	if ns == "" || fn.Name == "" || fn.Call == nil {
		return errors.New("namespaced function needs a namespace, a name and an implementation")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.namespaces[ns]
	if !ok {
		b = &namespaceBinding{obj: e.vm.NewObject(), fns: make(map[string]schemas.Function)}
		if err := e.vm.Set(ns, b.obj); err != nil {
			return fmt.Errorf("binding namespace %q: %w", ns, err)
		}
		e.namespaces[ns] = b
	}
	if _, exists := b.fns[fn.Name]; exists {
		return fmt.Errorf("function %s.%s is already registered", ns, fn.Name)
	}
	if err := b.obj.Set(fn.Name, e.native(fn)); err != nil {
		return fmt.Errorf("binding function %s.%s: %w", ns, fn.Name, err)
	}
	b.fns[fn.Name] = fn
	e.logger.Debug("Namespaced function registered.", zap.String("namespace", ns), zap.String("name", fn.Name))
	return nil
}

// BindControls exposes the controls of the application object model. Reading
// Control.Property calls Config.ReadProperty. A function calling it while its
// statement runs gets the controls bound once the statement ends.
func (e *Evaluator) BindControls(model map[string]schemas.ControlRecord) error {
	if !e.mu.TryLock() {
		e.pendingMu.Lock()
		e.pending = append(e.pending, model)
		e.pendingMu.Unlock()
		return nil
	}
	defer e.mu.Unlock()
	return e.bindControls(model)
}

// bindPending binds the models queued during a statement. e.mu must be held.
func (e *Evaluator) bindPending() {
	e.pendingMu.Lock()
	queued := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	for _, model := range queued {
		if err := e.bindControls(model); err != nil {
			e.logger.Warn("Rebinding controls failed.", zap.Error(err))
		}
	}
}

func (e *Evaluator) bindControls(model map[string]schemas.ControlRecord) error {
	for name, rec := range model {
		if _, isVar := e.vars[name]; isVar {
			continue
		}
		obj := e.vm.NewDynamicObject(&controlObject{e: e, name: name, record: rec})
		if err := e.vm.Set(name, obj); err != nil {
			return fmt.Errorf("binding control %q: %w", name, err)
		}
		e.controls[name] = rec
	}
	return nil
}

// SetVariable binds name for later statements.
func (e *Evaluator) SetVariable(name string, value interface{}) error {
	if !validIdentifier(name) {
		return fmt.Errorf("%q is not a valid variable name", name)
	}
	if _, isFn := e.functions[name]; isFn {
		return fmt.Errorf("%q is a function and cannot be assigned", name)
	}
	e.vars[name] = value
	return e.vm.Set(name, value)
}

// Variables returns a copy of the variable environment.
func (e *Evaluator) Variables() map[string]interface{} {
	out := make(map[string]interface{}, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// Functions lists the bound function names, namespaced ones as "Ns.Name".
func (e *Evaluator) Functions() []string {
	var names []string
	for n := range e.functions {
		names = append(names, n)
	}
	for ns, b := range e.namespaces {
		for n := range b.fns {
			names = append(names, ns+"."+n)
		}
	}
	sort.Strings(names)
	return names
}

func (e *Evaluator) refArity(name string) int {
	if dot := strings.LastIndex(name, "."); dot > 0 {
		if b, ok := e.namespaces[name[:dot]]; ok {
			return b.fns[name[dot+1:]].RefArgs
		}
		return 0
	}
	return e.functions[name].RefArgs
}

// Evaluate runs one statement and returns its exported value.
func (e *Evaluator) Evaluate(ctx context.Context, statement string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.bindPending()

	src, calls, unclosed := translate(statement, e.refArity)
	if unclosed {
		return nil, &ConfigError{Statement: statement, Reason: "unterminated string literal"}
	}
	if err := e.checkCalls(statement, calls); err != nil {
		return nil, err
	}

	e.ctx = ctx
	e.callErr = nil
	defer func() { e.ctx = context.Background() }()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			e.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := e.vm.RunString(src)
	close(done)
	wg.Wait()
	e.vm.ClearInterrupt()

	if err != nil {
		return nil, e.classify(statement, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// checkCalls rejects calls that cannot resolve before anything runs.
func (e *Evaluator) checkCalls(statement string, calls []call) error {
	for _, c := range calls {
		if c.Namespace == "" {
			if _, ok := e.functions[c.Name]; ok {
				continue
			}
			return &ConfigError{Statement: statement, Reason: fmt.Sprintf("unknown function %q", c.Name)}
		}

		if b, ok := e.namespaces[c.Namespace]; ok {
			fn := c.Name[len(c.Namespace)+1:]
			if _, ok := b.fns[fn]; ok {
				continue
			}
			return &ConfigError{Statement: statement, Reason: fmt.Sprintf("unknown function %q", c.Name)}
		}

		if e.cfg.RouteNamespace == nil {
			return &ConfigError{Statement: statement, Reason: fmt.Sprintf("namespace %q is not available", c.Namespace)}
		}
		owner, err := e.cfg.RouteNamespace(c.Namespace)
		if err != nil {
			return &ConfigError{Statement: statement, Reason: "unresolved namespace", Err: err}
		}
		return &ConfigError{
			Statement: statement,
			Reason:    fmt.Sprintf("namespace %q belongs to provider %q but the run uses %q", c.Namespace, owner, e.cfg.ActiveProvider),
		}
	}
	return nil
}

func (e *Evaluator) classify(statement string, err error) error {
	if e.callErr != nil {
		return e.callErr
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("evaluation interrupted: %w", e.ctxErr())
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &ConfigError{Statement: statement, Reason: "syntax error", Err: err}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg := ex.Error()
		if strings.HasPrefix(msg, "ReferenceError") {
			return &ConfigError{Statement: statement, Reason: "unknown name", Err: errors.New(firstLine(msg))}
		}
		if strings.HasPrefix(msg, "SyntaxError") {
			return &ConfigError{Statement: statement, Reason: "syntax error", Err: errors.New(firstLine(msg))}
		}
		return fmt.Errorf("evaluation failed: %s", firstLine(msg))
	}
	return fmt.Errorf("evaluation failed: %w", err)
}

func (e *Evaluator) ctxErr() error {
	if e.ctx != nil && e.ctx.Err() != nil {
		return e.ctx.Err()
	}
	return context.Canceled
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (e *Evaluator) native(fn schemas.Function) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = export(a)
		}
		res, err := fn.Call(e.ctx, args)
		if err != nil {
			e.callErr = err
			panic(e.vm.NewGoError(err))
		}
		return e.vm.ToValue(res)
	}
}

func export(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 && !isIdentStart(r) {
			return false
		}
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}

// controlObject exposes a control as a read-only object whose properties are
// fetched from the provider on access.
type controlObject struct {
	e      *Evaluator
	name   string
	record schemas.ControlRecord
}

func (c *controlObject) Get(key string) goja.Value {
	switch key {
	case "toString", "valueOf", "toJSON":
		return goja.Undefined()
	}
	if c.e.cfg.ReadProperty == nil {
		err := fmt.Errorf("reading %s.%s: %w", c.name, key, schemas.ErrCapabilityNotSupported)
		c.e.callErr = err
		panic(c.e.vm.NewGoError(err))
	}
	v, err := c.e.cfg.ReadProperty(c.e.ctx, schemas.ItemPath{Control: c.name, Property: key})
	if err != nil {
		c.e.callErr = fmt.Errorf("reading %s.%s: %w", c.name, key, err)
		panic(c.e.vm.NewGoError(c.e.callErr))
	}
	return c.e.vm.ToValue(v)
}

func (c *controlObject) Set(string, goja.Value) bool { return false }
func (c *controlObject) Has(string) bool             { return true }
func (c *controlObject) Delete(string) bool          { return false }
func (c *controlObject) Keys() []string              { return c.record.Properties }
