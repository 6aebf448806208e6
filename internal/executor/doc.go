// Package executor provides agent executors: the pieces that actually run a
// subtask once the engine has assigned it to an agent.
//
// Echo is deterministic and needs no network, which makes it the default for
// local runs and demos. Claude sends each subtask to the Anthropic Messages
// API, directly or through AWS Bedrock. Func adapts a plain function.
package executor
