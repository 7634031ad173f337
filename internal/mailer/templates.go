package mailer

import "html/template"

const layoutHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 30px; background-color: #111; color: white; text-decoration: none; border-radius: 5px; }
        table { width: 100%; border-collapse: collapse; }
        td { padding: 6px 0; border-bottom: 1px solid #eee; }
        .footer { padding-top: 20px; font-size: 12px; color: #666; }
    </style>
</head>
<body><div class="container">`

const layoutFoot = `<p class="footer">{{.Shop}}. This message was sent automatically.</p>
</div></body></html>`

var funcs = template.FuncMap{
	"money": func(v float64) string { return formatMoney(v) },
}

var welcomeTmpl = template.Must(template.New("welcome").Funcs(funcs).Parse(layoutHead + `
<h1>Welcome, {{.Name}}!</h1>
<p>Your {{.Shop}} account is ready.</p>
<p><a class="button" href="{{.ShopURL}}">Start shopping</a></p>
` + layoutFoot))

var resetTmpl = template.Must(template.New("reset").Funcs(funcs).Parse(layoutHead + `
<h1>Password reset</h1>
<p>Hi {{.Name}}, we received a request to reset your password.</p>
<p><a class="button" href="{{.ResetURL}}">Choose a new password</a></p>
<p>The link expires in {{.Minutes}} minutes. If you did not ask for this, ignore this email.</p>
` + layoutFoot))

var orderTmpl = template.Must(template.New("order").Funcs(funcs).Parse(layoutHead + `
<h1>Thanks for your order{{if .Name}}, {{.Name}}{{end}}!</h1>
<p>Order <strong>{{.Order.OrderNumber}}</strong> is {{.Status}}.</p>
<table>
{{range .Order.Items}}<tr><td>{{.Name}} &times; {{.Quantity}}</td><td align="right">{{money .LineTotal}}</td></tr>
{{end}}<tr><td>Subtotal</td><td align="right">{{money .Order.Totals.Subtotal}}</td></tr>
{{if .Order.Totals.Discount}}<tr><td>Discount</td><td align="right">-{{money .Order.Totals.Discount}}</td></tr>{{end}}
<tr><td>Shipping</td><td align="right">{{money .Order.Totals.Shipping}}</td></tr>
<tr><td>Tax</td><td align="right">{{money .Order.Totals.Tax}}</td></tr>
<tr><td><strong>Total</strong></td><td align="right"><strong>{{money .Order.Totals.Total}}</strong></td></tr>
</table>
<p><a class="button" href="{{.URL}}">View order</a></p>
` + layoutFoot))

var statusTmpl = template.Must(template.New("status").Funcs(funcs).Parse(layoutHead + `
<h1>Order {{.Order.OrderNumber}} update</h1>
<p>Your order is now <strong>{{.Status}}</strong>.</p>
{{if .Note}}<p>{{.Note}}</p>{{end}}
{{if .Order.TrackingNumber}}<p>Tracking number: {{.Order.TrackingNumber}}</p>{{end}}
<p><a class="button" href="{{.URL}}">View order</a></p>
` + layoutFoot))
