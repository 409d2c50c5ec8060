// Package jobs distributes background analysis work, such as style checks,
// across a fixed worker pool and serves the binary framed job protocol.
//
// The dispatcher is a pull-based greedy scheduler: the task queue is
// preloaded with twice the pool size, and each completed result feeds the
// next unseen job. Cancellation is cooperative; the dispatcher stops feeding
// but lets in-flight jobs finish and discards their results. Workers and the
// coordinator share no memory: everything moves over the two queues.
package jobs
