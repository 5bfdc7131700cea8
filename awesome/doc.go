// Package awesome implements the class bridge between a Go host and the Lua
// state it embeds. Host code describes classes natively and publishes them
// as Lua tables that scripts can instantiate and inspect:
//   - Classes are built in stages via NewClass followed by Method, Property,
//     SaveClass and Build on the returned ClassBuilder.
//   - Properties are ordered getter/setter pairs; the first property whose
//     name matches a field access wins.
//   - Field accesses that match neither a method nor a property fall through
//     to the class's miss handlers, reached through indirect handles.
//   - Published classes are recorded in the Runtime's Registry and can be
//     fetched again by name, e.g. ButtonClass.
//
// A Runtime owns one gopher-lua state. All class construction and property
// resolution runs on that state's call stack; Runtime.Do and DoString
// serialise access when several goroutines share a runtime.
package awesome
