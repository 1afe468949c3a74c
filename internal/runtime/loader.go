package runtime

import (
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// prelude runs before the tenant bundle. It installs the module export
// table, the shimmed module resolver for the handful of packages bundlers
// commonly leave external, and the `app` global with a frozen env object
// layered over the capability SDK.
//
// The shims are intentionally minimal: createElement-style factories that
// produce plain trees plus a static HTML renderer, enough for bundles that
// emit markup server-side. Anything else must be bundled in.
const preludeSource = `(function(sdk, env) {
	var frozenEnv = {};
	for (var k in env) {
		frozenEnv[k] = env[k];
	}
	Object.freeze(frozenEnv);

	globalThis.app = Object.assign(Object.create(sdk), { env: frozenEnv });
	globalThis.__exports = {};

	function createElement(type, props) {
		var children = [];
		for (var i = 2; i < arguments.length; i++) {
			children.push(arguments[i]);
		}
		return { type: type, props: props || {}, children: children };
	}

	var voidTags = { br: true, hr: true, img: true, input: true, meta: true, link: true };

	function escapeText(s) {
		return String(s)
			.replace(/&/g, "&amp;")
			.replace(/</g, "&lt;")
			.replace(/>/g, "&gt;");
	}

	function renderNode(node) {
		if (node === null || node === undefined || node === false) {
			return "";
		}
		if (typeof node === "string" || typeof node === "number") {
			return escapeText(node);
		}
		if (Array.isArray(node)) {
			return node.map(renderNode).join("");
		}
		if (typeof node.type === "function") {
			return renderNode(node.type(node.props));
		}
		var children = node.children || [];
		if (node.props && node.props.children !== undefined) {
			children = children.concat(node.props.children);
		}
		if (typeof node.type !== "string") {
			return renderNode(children);
		}
		var attrs = "";
		for (var key in node.props) {
			if (key === "children" || node.props[key] === undefined) {
				continue;
			}
			var name = key === "className" ? "class" : key;
			attrs += " " + name + "=\"" + escapeText(node.props[key]) + "\"";
		}
		if (voidTags[node.type]) {
			return "<" + node.type + attrs + "/>";
		}
		return "<" + node.type + attrs + ">" + renderNode(children) + "</" + node.type + ">";
	}

	var react = {
		createElement: createElement,
		Fragment: "__fragment__",
	};
	function jsx(type, props) {
		return createElement(type, props);
	}
	var modules = {
		"react": react,
		"react/jsx-runtime": { jsx: jsx, jsxs: jsx, Fragment: react.Fragment },
		"react-dom": { renderToString: renderNode },
		"react-dom/server": { renderToString: renderNode, renderToStaticMarkup: renderNode },
	};

	globalThis.__require = function(name) {
		if (Object.prototype.hasOwnProperty.call(modules, name)) {
			return modules[name];
		}
		throw new Error("module \"" + name + "\" is not available in the sandbox");
	};
})`

var preludeProgram = goja.MustCompile("prelude.js", preludeSource, true)

// installPrelude sets up the pre-bundle globals on a fresh engine.
func installPrelude(vm *goja.Runtime, sdk *SDK) error {
	setup, err := vm.RunProgram(preludeProgram)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(setup)
	if !ok {
		return NewError(ErrTypeRuntime, "prelude did not evaluate to a function")
	}
	_, err = fn(goja.Undefined(), vm.ToValue(sdk), vm.ToValue(sdk.Env))
	return err
}

// evaluateModule compiles and runs the tenant bundle. Syntax errors become
// CompilationError; a throw during top-level evaluation is passed through
// for classification.
func evaluateModule(vm *goja.Runtime, code string) error {
	program, err := goja.Compile("bundle.js", code, false)
	if err != nil {
		return NewError(ErrTypeCompilation, "compiling module: %s", firstLine(err.Error()))
	}
	if _, err := vm.RunProgram(program); err != nil {
		return err
	}
	return nil
}

// lookupFunction resolves the named entry point: the module export table
// first, then the global scope for bundles that attach functions directly.
func lookupFunction(vm *goja.Runtime, name string) (goja.Callable, error) {
	var available []string
	if exports, ok := vm.Get("__exports").(*goja.Object); ok {
		if fn, isFn := goja.AssertFunction(exports.Get(name)); isFn {
			return fn, nil
		}
		available = exports.Keys()
	}

	if fn, ok := goja.AssertFunction(vm.Get(name)); ok {
		return fn, nil
	}

	sort.Strings(available)
	if len(available) > 0 {
		return nil, NewError(ErrTypeValidation,
			"function %q not found in module exports (available: %s)", name, strings.Join(available, ", "))
	}
	return nil, NewError(ErrTypeValidation, "function %q not found: the module exports no functions", name)
}
