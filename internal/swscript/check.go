package swscript

import (
	"encoding/json"
	"fmt"

	"modernc.org/quickjs"
)

// checkMemoryLimit bounds the VM used to evaluate a script.
const checkMemoryLimit = 16 << 20

// Report is what a script did when evaluated against stub worker globals.
type Report struct {
	// Events lists listener types in registration order.
	Events []string `json:"events"`
	// InstallCache is the cache the install listener opened.
	InstallCache string `json:"installCache"`
	// InstallWaits counts waitUntil calls made by the install listener.
	InstallWaits int `json:"installWaits"`
}

// checkPrelude stands in for the worker global scope. Every stub records
// synchronously so the report never depends on the job queue having run.
const checkPrelude = `
globalThis.__check = { events: [], listeners: {}, installCache: "", installWaits: 0, phase: "" };
globalThis.self = globalThis;
self.addEventListener = function (type, fn) {
  __check.events.push(type);
  __check.listeners[type] = fn;
};
self.skipWaiting = function () { return Promise.resolve(); };
self.clients = { claim: function () { return Promise.resolve(); } };
const __stubCache = {
  addAll: function () { return Promise.resolve(); },
  match: function () { return Promise.resolve(undefined); },
  put: function () { return Promise.resolve(); },
};
globalThis.caches = {
  open: function (name) {
    if (__check.phase === "install" && __check.installCache === "") {
      __check.installCache = String(name);
    }
    return Promise.resolve(__stubCache);
  },
  keys: function () { return Promise.resolve([]); },
  delete: function () { return Promise.resolve(true); },
};
globalThis.fetch = function () { return Promise.resolve({ status: 200, clone: function () { return this; } }); };
`

const checkDispatch = `
(function () {
  var install = __check.listeners["install"];
  if (typeof install === "function") {
    __check.phase = "install";
    install({ waitUntil: function () { __check.installWaits++; } });
    __check.phase = "";
  }
  return JSON.stringify({
    events: __check.events,
    installCache: __check.installCache,
    installWaits: __check.installWaits,
  });
})()
`

// Check evaluates src in a QuickJS VM with stub worker globals, dispatches a
// synthetic install event, and reports what the script registered.
func Check(src []byte) (Report, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return Report{}, fmt.Errorf("creating check VM: %w", err)
	}
	defer vm.Close()
	vm.SetMemoryLimit(checkMemoryLimit)

	if err := evalDiscard(vm, checkPrelude); err != nil {
		return Report{}, fmt.Errorf("installing check globals: %w", err)
	}
	if err := evalDiscard(vm, string(src)); err != nil {
		return Report{}, fmt.Errorf("evaluating service worker: %w", err)
	}
	out, err := vm.Eval(checkDispatch, quickjs.EvalGlobal)
	if err != nil {
		return Report{}, fmt.Errorf("dispatching install: %w", err)
	}
	s, ok := out.(string)
	if !ok {
		return Report{}, fmt.Errorf("check returned %T, want string", out)
	}
	var r Report
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Report{}, fmt.Errorf("decoding check report: %w", err)
	}
	return r, nil
}

func evalDiscard(vm *quickjs.VM, js string) error {
	v, err := vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}
