// Package logx is a thin structured-logging facade over zerolog.
//
// Components receive a Logger value and never touch zerolog directly, so
// sinks and levels can be swapped at runtime through Service.Apply without
// re-plumbing loggers. The zero Logger is a safe no-op.
package logx
