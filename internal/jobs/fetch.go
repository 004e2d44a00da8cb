package jobs

import "context"

// RegisterFetch registers the mailbox fetch job under FetchEmails.
func RegisterFetch(jm *JobManager) {
	jm.Register(FetchEmails, "Fetch emails", fetchTask)
}

func fetchTask(ctx context.Context, app JobContext) error {
	_, err := app.Fetcher().Run(ctx)
	return err
}
