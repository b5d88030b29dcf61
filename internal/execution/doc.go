// Package execution schedules virtual users.
//
// Three modes are provided: ramping-vus follows a stage list, constant-vus
// holds a fixed VU count for a duration and per-vu-iterations runs a fixed
// number of iterations on each VU. All of them share vuPool, which only
// retires a VU between iterations and bounds the final drain with a
// graceful stop period.
package execution
