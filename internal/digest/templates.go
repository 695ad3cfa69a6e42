package digest

const insightsSubject = `{% if count == 1 %}1 change{% else %}{{ count }} changes{% endif %} worth a look on your site`

const insightsHTML = `<!doctype html>
<html>
<body style="font-family: -apple-system, Helvetica, Arial, sans-serif; color: #1f2933; max-width: 600px; margin: 0 auto;">
  <p>Hi {{ name | first_name | escape }},</p>
  <p>Here is what stood out in your analytics since your last digest.</p>
  {% for i in insights %}
  <div style="border-left: 4px solid {% if i.direction == "up" %}#2f9e44{% else %}#e03131{% endif %}; padding: 8px 16px; margin: 16px 0;">
    <h3 style="margin: 0 0 8px;">{{ i.headline | escape }}</h3>
    <p style="margin: 0 0 8px;">{{ i.explanation | escape }}</p>
    <p style="margin: 0 0 8px; color: #52606d;">Actual {{ i.current }} vs expected {{ i.expected }} ({{ i.change }})</p>
    <ul>
      {% for a in i.actions %}<li>{{ a | escape }}</li>
      {% endfor %}
    </ul>
  </div>
  {% endfor %}
  <p><a href="{{ app_url }}/insights">See all insights</a></p>
  <p style="font-size: 12px; color: #9aa5b1;">You can change delivery days and time in <a href="{{ app_url }}/settings">settings</a>.</p>
</body>
</html>`

const insightsText = `Hi {{ name | first_name }},

Here is what stood out in your analytics since your last digest.
{% for i in insights %}
* {{ i.headline }}
  {{ i.explanation }}
  Actual {{ i.current }} vs expected {{ i.expected }} ({{ i.change }})
{% for a in i.actions %}  - {{ a }}
{% endfor %}{% endfor %}
See all insights: {{ app_url }}/insights
Change delivery settings: {{ app_url }}/settings
`

const stillProcessingSubject = `We're still learning your site's patterns`

const stillProcessingHTML = `<!doctype html>
<html>
<body style="font-family: -apple-system, Helvetica, Arial, sans-serif; color: #1f2933; max-width: 600px; margin: 0 auto;">
  <p>Hi {{ name | first_name | escape }},</p>
  <p>Your analytics are connected and we're building a baseline of normal traffic for your site.
  Nothing unusual has happened yet, which is good news. As soon as something changes we'll let you know.</p>
  <p><a href="{{ app_url }}/dashboard">Open your dashboard</a></p>
</body>
</html>`

const stillProcessingText = `Hi {{ name | first_name }},

Your analytics are connected and we're building a baseline of normal traffic for your site.
Nothing unusual has happened yet, which is good news. As soon as something changes we'll let you know.

Open your dashboard: {{ app_url }}/dashboard
`
