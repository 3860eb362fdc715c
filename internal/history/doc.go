// Package history is the local cache of group messages the bot has seen.
//
// The Bot API cannot read chat history on demand, so the adapter records
// every text message as it arrives and the summarization pipeline reads the
// recent window back from here. A cron-driven pruner keeps the table from
// growing without bound.
package history
