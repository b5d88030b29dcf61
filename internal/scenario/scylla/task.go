package scylla

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	"go.uber.org/zap"

	"yqhp/load-harness/internal/check"
	"yqhp/load-harness/internal/httpclient"
	"yqhp/load-harness/internal/scenario"
)

type taskPayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

var (
	testTask = taskPayload{
		Title:       "K6 Test Task",
		Description: "This is a test task created by load-harness",
		Status:      "doing",
	}
	updatedTask = taskPayload{
		Title:       "K6 Updated Test Task",
		Description: "This task has been updated by load-harness",
		Status:      "done",
	}
)

func taskURL(id string) string {
	return tasksPath + "/" + id
}

// TaskDefault runs the full task lifecycle: health, create, get, update,
// list and delete.
func TaskDefault(ctx context.Context, sc *scenario.Context) error {
	f := newFlow(ctx, sc)
	f.healthCheck()

	id, ok := f.createTask()
	if ok {
		f.getTask(id)
		f.updateTask(id)
		f.listTasks()
		f.deleteTask(id)
	}
	return f.done()
}

// TaskHighLoad repeats the list flow five times.
func TaskHighLoad(ctx context.Context, sc *scenario.Context) error {
	f := newFlow(ctx, sc)
	for i := 0; i < 5; i++ {
		f.listTasks()
		f.sleep(listPause)
	}
	return f.done()
}

// TaskCreateMultiple creates three tasks with indexed titles.
func TaskCreateMultiple(ctx context.Context, sc *scenario.Context) error {
	f := newFlow(ctx, sc)
	for i := 0; i < 3; i++ {
		body := testTask
		body.Title = fmt.Sprintf("%s %d", testTask.Title, i)
		resp := f.post(tasksPath, body, httpclient.WithName(tasksPath))
		f.check(resp, c(fmt.Sprintf("Create task %d status is 200", i), check.StatusIs(200)))
	}
	return f.done()
}

// TaskErrorScenarios exercises validation and not-found handling.
func TaskErrorScenarios(ctx context.Context, sc *scenario.Context) error {
	f := newFlow(ctx, sc)

	resp := f.post(tasksPath, taskPayload{Title: "", Status: "invalid_status"}, httpclient.WithName(tasksPath))
	f.check(resp,
		c("Invalid task creation returns 400", check.StatusIs(400)),
		c("Error response has error object", check.JSONPresent("error")),
	)

	resp = f.get(taskURL("99999999"), httpclient.WithName(taskPath))
	f.check(resp,
		c("Non-existent task returns 404", check.StatusIs(404)),
		c("Not found error has proper structure", check.JSONEquals("error.code", "NOT_FOUND")),
	)
	return f.done()
}

// createTask returns the id in "data", or a placeholder id when the
// service accepted the task without returning one.
func (f *flow) createTask() (string, bool) {
	resp := f.post(tasksPath, testTask, httpclient.WithName(tasksPath))
	ok := f.group(resp, "create task failed",
		c("Create task status is 200", check.StatusIs(200)),
		c("Create task response time < 1000ms", fasterThan(1000)),
		c("Create task returns success message", check.JSONPresent("data")),
	)
	if !ok {
		return "", false
	}

	if id, isStr := resp.JSON("data").String(); isStr && id != "" {
		f.sc.Logger.Debug("task created", zap.String("task_id", id))
		return id, true
	}
	if n, isNum := resp.JSON("data").Number(); isNum && n != 0 {
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	return fmt.Sprintf("test_task_%d", rand.IntN(10000)), true
}

// tolerant handles the 200|404 outcome shared by get, update and delete:
// 200 must pass the extra checks, 404 is expected for placeholder ids and
// anything else is an error.
func (f *flow) tolerant(op, id string, resp *httpclient.Response, extra ...check.Check) {
	switch resp.Status {
	case 200:
		f.sc.Group(f.check(resp, extra...))
	case 404:
		f.sc.Logger.Debug("task not found", zap.String("op", op), zap.String("task_id", id))
		f.sc.Group(true)
	default:
		f.sc.Group(false)
		f.sc.Logger.Warn(op+" task failed with unexpected status", zap.String("task_id", id), zap.Int("status", resp.Status))
	}
}

func (f *flow) getTask(id string) {
	resp := f.get(taskURL(id), httpclient.WithName(taskPath))
	f.check(resp,
		c("Get task status is 200 or 404", check.StatusIn(200, 404)),
		c("Get task response time < 500ms", fasterThan(500)),
	)
	f.tolerant("get", id, resp,
		c("Get task returns task data", check.JSONPresent("data")),
		c("Task has required fields", check.All(
			check.JSONTruthy("data.id"),
			check.JSONTruthy("data.title"),
			check.JSONTruthy("data.status"),
		)),
	)
}

func (f *flow) updateTask(id string) {
	resp := f.patch(taskURL(id), updatedTask, httpclient.WithName(taskPath))
	f.check(resp,
		c("Update task status is 200 or 404", check.StatusIn(200, 404)),
		c("Update task response time < 1000ms", fasterThan(1000)),
	)
	f.tolerant("update", id, resp, c("Update task returns success message", check.JSONPresent("data")))
}

func (f *flow) deleteTask(id string) {
	resp := f.del(taskURL(id), httpclient.WithName(taskPath))
	f.check(resp,
		c("Delete task status is 200 or 404", check.StatusIn(200, 404)),
		c("Delete task response time < 1000ms", fasterThan(1000)),
	)
	f.tolerant("delete", id, resp, c("Delete task returns success message", check.JSONPresent("data")))
}

// listTasks lists all tasks, filtered by status and paginated. Whether the
// service echoes the filter back is not asserted.
func (f *flow) listTasks() {
	resp := f.get(tasksPath)
	f.group(resp, "list all tasks failed",
		c("List all tasks status is 200", check.StatusIs(200)),
		c("List all tasks response time < 1000ms", fasterThan(1000)),
		c("List all tasks returns array", check.JSONIsArray("data")),
	)

	resp = f.get(tasksPath + "?status=doing")
	f.group(resp, "list tasks with filter failed",
		c("List tasks with filter status is 200", check.StatusIs(200)),
		c("List tasks with filter response time < 1000ms", fasterThan(1000)),
		c("List tasks with filter returns array", check.JSONIsArray("data")),
	)

	resp = f.get(tasksPath + "?limit=5")
	f.group(resp, "list tasks with pagination failed",
		c("List tasks with pagination status is 200", check.StatusIs(200)),
		c("List tasks with pagination response time < 1000ms", fasterThan(1000)),
		c("Pagination metadata present", check.JSONIsNumber("paging.limit")),
	)
}
