// Package checker runs style-checker modules written in Lua.
//
// A checker module is a single Lua file defining a global check function:
//
//	function check(path, source, options)
//	    return {
//	        {line = 3, col = 1, code = "W101", message = "trailing whitespace"},
//	    }
//	end
//
// The INIT message on the job protocol loads a module by search path and
// module name, and registers it as a named service plus a pooled batch
// handler. Lua states are not goroutine-safe, so each loaded module
// serializes its calls behind a mutex; parallelism comes from the job pool
// running different files through the module one at a time while other
// modules run concurrently.
package checker
