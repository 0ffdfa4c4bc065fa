package render

// tableStyle mirrors the dark blue table theme the digest has always used.
const tableStyle = `
table.digest { border-collapse: collapse; font-family: Open Sans, Helvetica, Arial, sans-serif; font-size: 14px; }
table.digest th { background-color: #305496; color: #FFFFFF; padding: 10px; text-align: left; border-bottom: 2px solid #305496; }
table.digest td { padding: 10px; border-bottom: 1px solid #305496; color: black; }
table.digest tr:nth-child(even) td { background-color: #D9E1F2; }
td.amount, th.amount { text-align: right; }
`

const digestTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><style>{{ .Style }}</style></head>
<body style="font-family: Open Sans, Helvetica, Arial, sans-serif;">
<p>Hi all,</p>
<p>Please find below the donation summary from Raisers Edge as of {{ .AsOf }}.</p>

<h3>Year to date (FY {{ .Report.Window.Label }})</h3>
<table class="digest">
<tr><th>Financial Year</th><th class="amount">Amount</th></tr>
<tr><td>{{ .Report.Window.Label }}</td><td class="amount">{{ .Report.YTDCurrentFormatted }}</td></tr>
<tr><td>Receipted this year, dated before {{ .StartDate }}</td><td class="amount">{{ .Report.YTDPriorFormatted }}</td></tr>
</table>

<h3>Month-wise donations</h3>
{{- if .Report.Monthly }}
<table class="digest">
<tr><th>Month</th><th class="amount">Amount</th></tr>
{{- range .Report.Monthly }}
<tr><td>{{ .Label }}</td><td class="amount">{{ .Formatted }}</td></tr>
{{- end }}
</table>
{{- else }}
<p>No donations have been receipted in this financial year yet.</p>
{{- end }}

<h3>Donations received in the last 7 days</h3>
{{- if .Report.Weekly }}
<table class="digest">
<tr><th>Date of Credit</th><th class="amount">Amount</th><th>Name of Donor</th><th>Name of Company</th><th>Purpose/ Project Description</th></tr>
{{- range .Report.Weekly }}
<tr><td>{{ .DateOfCredit }}</td><td class="amount">{{ .Formatted }}</td><td>{{ .DonorName }}</td><td>{{ .CompanyName }}</td><td>{{ .Campaign }}</td></tr>
{{- end }}
</table>
{{- else }}
<p>No donations were received in the last 7 days.</p>
{{- end }}

<p>Thanks &amp; Regards,<br>A Bot</p>
</body>
</html>
`

const failureTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Open Sans, Helvetica, Arial, sans-serif;">
<p>Hi,</p>
<p>This is to inform you that the job scheduled below has failed.</p>
<table class="digest" style="border-collapse: collapse;">
<tr><td style="padding: 6px;"><b>Job Name</b></td><td style="padding: 6px;">{{ .JobName }}</td></tr>
<tr><td style="padding: 6px;"><b>Failed on</b></td><td style="padding: 6px;">{{ .FailedOn }}</td></tr>
{{- if .RunID }}
<tr><td style="padding: 6px;"><b>Run ID</b></td><td style="padding: 6px;">{{ .RunID }}</td></tr>
{{- end }}
</table>
<p>Below is the detailed error log,</p>
<pre style="white-space: pre-wrap;">{{ .Error }}</pre>
<p>The full run log is attached.</p>
<p>Thanks &amp; Regards,<br>A Bot</p>
</body>
</html>
`
