package email

import (
	"fmt"
	"html"
	"strings"

	"jms/internal/reports"
)

const pageStyle = `
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            line-height: 1.6;
            color: #333;
            max-width: 600px;
            margin: 0 auto;
            padding: 20px;
            background-color: #f8f9fa;
        }
        .container {
            background-color: white;
            padding: 40px;
            border-radius: 12px;
            box-shadow: 0 2px 10px rgba(0, 0, 0, 0.1);
        }
        .title {
            font-size: 22px;
            color: #8a6d1d;
            margin-bottom: 20px;
        }
        .warning {
            background-color: #fff3cd;
            border-left: 4px solid #d4a017;
            padding: 12px 16px;
            margin: 20px 0;
        }
        table {
            width: 100%%;
            border-collapse: collapse;
        }
        th, td {
            text-align: left;
            padding: 6px 8px;
            border-bottom: 1px solid #e9ecef;
        }
        .footer {
            margin-top: 40px;
            padding-top: 20px;
            border-top: 1px solid #e9ecef;
            font-size: 14px;
            color: #6c757d;
            text-align: center;
        }
    </style>`

func page(title, body string) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>`+pageStyle+`
</head>
<body>
    <div class="container">
        <div class="title">%s</div>
%s
        <div class="footer">
            <p>Jewelry Inventory Manager</p>
        </div>
    </div>
</body>
</html>`, html.EscapeString(title), html.EscapeString(title), body)
}

type recoveryData struct {
	KeyPrefix string
	Remaining int
	At        string
}

func recoveryHTML(d recoveryData) string {
	return page("Admin password reset", fmt.Sprintf(`
        <p>The administrator password was reset to the default with master key <strong>%s</strong> at %s.</p>
        <div class="warning">
            Log in and change the password now. %d unused master keys remain.
        </div>
        <p>If you did not do this, restore the latest backup and rotate the master keys.</p>`,
		html.EscapeString(d.KeyPrefix), html.EscapeString(d.At), d.Remaining))
}

func recoveryText(d recoveryData) string {
	return fmt.Sprintf(`Admin password reset

The administrator password was reset to the default with master key %s at %s.

Log in and change the password now. %d unused master keys remain.

If you did not do this, restore the latest backup and rotate the master keys.`, d.KeyPrefix, d.At, d.Remaining)
}

type restoreData struct {
	Backup     string
	RestoredBy string
	At         string
}

func restoreHTML(d restoreData) string {
	return page("Database restored", fmt.Sprintf(`
        <p>The database was restored from <strong>%s</strong> by %s at %s.</p>
        <div class="warning">
            Changes made after that backup was taken are no longer in the live database. A safety backup of the
            replaced file was written to the backup directory.
        </div>`,
		html.EscapeString(d.Backup), html.EscapeString(d.RestoredBy), html.EscapeString(d.At)))
}

func restoreText(d restoreData) string {
	return fmt.Sprintf(`Database restored

The database was restored from %s by %s at %s.

Changes made after that backup was taken are no longer in the live database. A safety backup of the
replaced file was written to the backup directory.`, d.Backup, d.RestoredBy, d.At)
}

func lowStockHTML(threshold int, levels []reports.StockLevel) string {
	var rows strings.Builder
	for _, l := range levels {
		fmt.Fprintf(&rows, `
                <tr><td>%s</td><td>%s</td><td>%d</td><td>%d</td></tr>`,
			html.EscapeString(l.Barcode), html.EscapeString(l.Name), l.WarehouseUnits, l.ShopUnits)
	}

	return page("Low stock", fmt.Sprintf(`
        <p>These items have %d or fewer units left across the warehouse and all shops.</p>
        <table>
            <thead>
                <tr><th>Barcode</th><th>Name</th><th>Warehouse</th><th>Shops</th></tr>
            </thead>
            <tbody>%s
            </tbody>
        </table>`, threshold, rows.String()))
}

func lowStockText(threshold int, levels []reports.StockLevel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Low stock\n\nThese items have %d or fewer units left across the warehouse and all shops.\n\n", threshold)
	for _, l := range levels {
		fmt.Fprintf(&b, "- %s %s: warehouse %d, shops %d\n", l.Barcode, l.Name, l.WarehouseUnits, l.ShopUnits)
	}
	return b.String()
}
