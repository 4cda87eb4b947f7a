package notify

import (
	"bytes"
	"html/template"
)

var emailTemplates = template.Must(template.New("approval_required").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Approval Required - Stock Control</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<h1 style="color: #0d9488;">Approval Required</h1>
<p>Hello {{.RecipientName}},</p>
<p>A job card requires your approval for the <strong>{{.StepName}}</strong> step.</p>
<p><strong>Job Number:</strong> {{.JobNumber}}<br/><strong>Job Name:</strong> {{.JobName}}</p>
<p><a href="{{.ActionURL}}">Review Job Card</a></p>
<p style="color: #999; font-size: 12px;">This is an automated notification from Stock Control.</p>
</body></html>`))

func init() {
	template.Must(emailTemplates.New("approval_rejected").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Job Card Rejected - Stock Control</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<h1 style="color: #dc2626;">Job Card Rejected</h1>
<p>Hello {{.RecipientName}},</p>
<p>A job card has been rejected and requires your attention.</p>
<p><strong>Job Number:</strong> {{.JobNumber}}<br/><strong>Job Name:</strong> {{.JobName}}<br/><strong>Rejected By:</strong> {{.ActorName}}</p>
<p><strong>Reason for Rejection:</strong> {{.Reason}}</p>
<p><a href="{{.ActionURL}}">View Job Card</a></p>
<p style="color: #999; font-size: 12px;">This is an automated notification from Stock Control.</p>
</body></html>`))
}

type emailData struct {
	RecipientName string
	JobNumber     string
	JobName       string
	StepName      string
	ActorName     string
	Reason        string
	ActionURL     string
}

func renderEmail(name string, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
