package extraction

// lineItemPrompt is the shared instruction template used by all model
// providers. It asks for one record per purchased item rather than a single
// receipt total, since the ledger tracks individual expenses.
const lineItemPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract every purchased line item.

For each item, extract:

1. **Description**: The item name as printed on the receipt (e.g., "Ground Coffee 12oz", "Sandwich"). Do not include quantity prefixes or SKU codes.

2. **Amount**: The line total for that item in dollars and cents as a number (e.g., 4.50 for $4.50). Use the per-line price, not the receipt total.

3. **Date**: The transaction date of the receipt in ISO 8601 format (YYYY-MM-DD). It is the same for every item. If no date is visible, use null.

4. **Category**: A single lowercase word classifying the item, chosen from: grocery, restaurant, fuel, transit, pharmacy, utility, entertainment, household. If unsure, use null.

5. **Confidence**: Your confidence in the extracted amount as a number from 0 to 1.

Return ONLY a valid JSON array in this exact format:
[
  {"description": "Item name", "amount": 0.00, "date": "YYYY-MM-DD", "category": "grocery", "confidence": 0.95}
]

Important:
- Return one object per line item, in receipt order
- Skip subtotal, tax, tip, and total lines
- The amount must be a number (not a string)
- If the image is not a receipt or has no readable items, return []
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
