// File: internal/browser/collect.go
// Description: The in-page collection script behind Page.Snapshot. One
// evaluation enumerates native elements, widget candidates, and candidate
// containers, capturing everything the classifier needs so no further page
// reads are required. Per-element failures are recorded as captureError
// entries, never thrown.
package browser

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// collectScript renders the collection script with the widget selector and
// element cap baked in.
func collectScript(widgetSelector string, maxElements int) string {
	selector := `[contenteditable="true"], [role="textbox"], [role="combobox"]`
	if widgetSelector != "" {
		selector = widgetSelector
	}
	encoded, err := json.Marshal(selector)
	if err != nil {
		encoded = []byte(`""`)
	}
	replacer := strings.NewReplacer(
		"__WIDGET_SELECTOR__", string(encoded),
		"__MAX_ELEMENTS__", strconv.Itoa(maxElements),
	)
	return replacer.Replace(collectTemplate)
}

const collectTemplate = `(() => {
    const WIDGET_SELECTOR = __WIDGET_SELECTOR__;
    const MAX_ELEMENTS = __MAX_ELEMENTS__;
    const KEY_PROP = '__applypilotKey';
    let nextKey = 0;

    const keyOf = (el) => {
        if (!el[KEY_PROP]) el[KEY_PROP] = 'k' + (++nextKey);
        return el[KEY_PROP];
    };
    const clean = (s) => (s || '').replace(/\s+/g, ' ').trim();
    const textOf = (el) => el ? clean(el.textContent).slice(0, 200) : '';
    const byIdRefs = (ids) => clean((ids || '').split(/\s+/).filter(Boolean)
        .map((id) => textOf(document.getElementById(id))).join(' '));

    const headingBefore = (el) => {
        let node = el;
        while (node && node !== document.body) {
            let sib = node.previousElementSibling;
            while (sib) {
                if (/^H[1-6]$/.test(sib.tagName) || sib.tagName === 'LEGEND') return textOf(sib);
                sib = sib.previousElementSibling;
            }
            node = node.parentElement;
        }
        return '';
    };

    const precedingLabelLike = (el) => {
        const sib = el.previousElementSibling;
        if (!sib) return '';
        if (/^(LABEL|SPAN|DIV|P|B|STRONG)$/.test(sib.tagName)) {
            const t = textOf(sib);
            if (t && t.length <= 120) return t;
        }
        return '';
    };

    const boundLabel = (el) => {
        if (!el.id) return '';
        try {
            const label = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
            return textOf(label);
        } catch (e) { return ''; }
    };

    const ancestorsOf = (el) => {
        const chain = [];
        let node = el.parentElement;
        for (let depth = 0; node && node !== document.documentElement && depth < 10; depth++) {
            let heading = '';
            const h = node.querySelector(':scope > h1, :scope > h2, :scope > h3, :scope > h4, :scope > h5, :scope > h6, :scope > legend');
            if (h) heading = textOf(h);
            chain.push({
                key: keyOf(node),
                tag: node.tagName.toLowerCase(),
                role: node.getAttribute('role') || '',
                id: node.id || '',
                className: typeof node.className === 'string' ? node.className : '',
                headingText: heading,
                labelText: clean(node.getAttribute('aria-label') || ''),
            });
            node = node.parentElement;
        }
        return chain;
    };

    const pickedAttrs = (el) => {
        const out = {};
        for (const attr of el.attributes) {
            if (attr.name === 'role' || attr.name.indexOf('data-') === 0) {
                out[attr.name] = (attr.value || '').slice(0, 120);
            }
        }
        return out;
    };

    const snapOne = (el, origin, order) => {
        const base = {
            key: keyOf(el),
            tag: el.tagName.toLowerCase(),
            inputType: '',
            id: el.id || '',
            name: el.getAttribute('name') || '',
            attributes: {},
            ariaLabel: '', ariaLabelledByText: '', labelText: '',
            placeholder: '', ariaDescribedByText: '', precedingText: '',
            enclosingLabelText: '', headingText: '',
            rect: { x: 0, y: 0, width: 0, height: 0 },
            style: { display: '', visibility: '', opacity: 0, pointerEvents: '', position: '', cursor: '' },
            disabled: false, ancestorDisabled: false, readOnly: false, required: false,
            hasTabIndex: false, hasClickHandler: false, contentEditable: false, hasLayoutParent: false,
            documentOrder: order,
            origin: origin,
            ancestors: [],
            captureError: '',
        };
        try {
            if (el.tagName === 'INPUT') base.inputType = (el.getAttribute('type') || 'text').toLowerCase();
            base.attributes = pickedAttrs(el);

            base.ariaLabel = clean(el.getAttribute('aria-label') || '');
            base.ariaLabelledByText = byIdRefs(el.getAttribute('aria-labelledby'));
            base.labelText = boundLabel(el);
            base.placeholder = clean(el.getAttribute('placeholder') || '');
            base.ariaDescribedByText = byIdRefs(el.getAttribute('aria-describedby'));
            base.precedingText = precedingLabelLike(el);
            const enclosing = el.closest('label');
            base.enclosingLabelText = enclosing && enclosing !== el ? textOf(enclosing) : '';
            base.headingText = headingBefore(el);

            const r = el.getBoundingClientRect();
            base.rect = {
                x: r.left + window.scrollX,
                y: r.top + window.scrollY,
                width: r.width,
                height: r.height,
            };
            const cs = window.getComputedStyle(el);
            base.style = {
                display: cs.display,
                visibility: cs.visibility,
                opacity: parseFloat(cs.opacity) || 0,
                pointerEvents: cs.pointerEvents,
                position: cs.position,
                cursor: cs.cursor,
            };

            base.disabled = el.disabled === true || el.getAttribute('aria-disabled') === 'true';
            const parent = el.parentElement;
            base.ancestorDisabled = !!(parent && parent.closest('fieldset[disabled], [aria-disabled="true"]'));
            base.readOnly = el.readOnly === true || el.getAttribute('aria-readonly') === 'true';
            base.required = el.required === true || el.getAttribute('aria-required') === 'true';

            base.hasTabIndex = el.hasAttribute('tabindex');
            base.hasClickHandler = typeof el.onclick === 'function' || el.hasAttribute('onclick');
            base.contentEditable = el.isContentEditable === true;
            base.hasLayoutParent = el.offsetParent !== null || cs.position === 'fixed';

            base.ancestors = ancestorsOf(el);
        } catch (e) {
            base.captureError = String(e && e.message || e);
        }
        return base;
    };

    const elements = [];
    const seen = new Set();
    let order = 0;

    const natives = document.querySelectorAll('input, select, textarea, button');
    for (const el of natives) {
        if (elements.length >= MAX_ELEMENTS) break;
        if (el.tagName === 'INPUT') {
            const type = (el.getAttribute('type') || 'text').toLowerCase();
            if (type === 'hidden' || type === 'submit' || type === 'image') { order++; continue; }
        }
        seen.add(keyOf(el));
        elements.push(snapOne(el, 'native', order++));
    }

    if (WIDGET_SELECTOR) {
        let widgets = [];
        try { widgets = document.querySelectorAll(WIDGET_SELECTOR); } catch (e) {}
        for (const el of widgets) {
            if (elements.length >= MAX_ELEMENTS) break;
            if (seen.has(keyOf(el))) continue;
            if (/^(INPUT|SELECT|TEXTAREA|BUTTON)$/.test(el.tagName)) continue;
            seen.add(keyOf(el));
            elements.push(snapOne(el, 'widget', order++));
        }
    }

    const containers = [];
    const containerNodes = document.querySelectorAll(
        'form, [role="form"], [class*="application-form"], [class*="apply-form"], [id*="application"]');
    for (const node of containerNodes) {
        if (containers.length >= 20) break;
        try {
            containers.push({
                key: keyOf(node),
                tag: node.tagName.toLowerCase(),
                id: node.id || '',
                className: typeof node.className === 'string' ? node.className : '',
                text: clean(node.textContent).slice(0, 400),
                inputCount: node.querySelectorAll('input, select, textarea').length,
                visible: node.offsetParent !== null,
            });
        } catch (e) {}
    }

    return {
        url: location.href,
        title: document.title,
        documentWidth: document.documentElement.scrollWidth,
        documentHeight: document.documentElement.scrollHeight,
        viewportWidth: window.innerWidth,
        viewportHeight: window.innerHeight,
        elements: elements,
        containers: containers,
    };
})()`
