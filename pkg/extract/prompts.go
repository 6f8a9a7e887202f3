package extract

const extractionPrompt = `You are an invoice and receipt parser. Read the document and return a single JSON object with these fields where present: document_type ("invoice" or "receipt"), vendor_name, vendor_tax_id, invoice_number, invoice_date, due_date, currency, subtotal, tax_amount, total_amount, payment_method, line_items (array of {description, quantity, unit_price, line_total}), confidence (0 to 1, your own estimate). Use null for fields you cannot read. Return only the JSON object, no prose.`

const correctivePrompt = `Your previous reply was not valid JSON. Reply again with exactly one JSON object and nothing else: no markdown, no commentary, no trailing text.`
