package subscription

import (
	"strconv"
	"strings"

	"adhanbot/internal/storage"
	"adhanbot/internal/timesource"
	"adhanbot/pkg/tgui"
)

const qrCaption = "هذا هو رمز QR الخاص بالدفع. يرجى مسحه ضوئياً لإكمال عملية الدفع عبر شام كاش."

func operatorNotice(sub storage.Subscriber, orderID string) string {
	who := "ID " + strconv.FormatInt(sub.ID, 10)
	if sub.Username != "" {
		who = "@" + sub.Username
	}
	var b strings.Builder
	b.WriteString("🔔 <b>طلب دفع جديد!</b>\n")
	b.WriteString("----------------------------------\n")
	b.WriteString("🧑‍💻 <b>المستخدم:</b> " + tgui.Esc(who).String() + " (ID: " + tgui.Code(strconv.FormatInt(sub.ID, 10)).String() + ")\n")
	b.WriteString("📝 <b>رقم الطلب:</b> " + tgui.Code(orderID).String() + "\n")
	b.WriteString("🗺️ <b>المحافظة:</b> " + tgui.Esc(timesource.DisplayName(sub.Location)).String() + "\n")
	b.WriteString("🔗 <b>رابط تأكيد الدفع:</b> " + tgui.Code("/as "+orderID).String() + "\n")
	b.WriteString("----------------------------------\n")
	b.WriteString("يرجى مراجعة إيصال الدفع.")
	return b.String()
}

func paymentText(orderID string, cfg Config) string {
	var b strings.Builder
	b.WriteString("✅ <b>خطوتك الأخيرة لتفعيل الخدمة!</b>\n\n")
	b.WriteString("--- <b>طلب الخدمة رقم: " + tgui.Esc(orderID).String() + "</b> ---\n\n")
	b.WriteString("<b>💰 قيمة الاشتراك:</b> " + tgui.Esc(cfg.PriceText).String() + ".\n")
	b.WriteString("<b>💳 طريقة الدفع:</b> شام كاش (Sham Cash).\n\n")
	b.WriteString("<b>1. قم بالدفع:</b>\n")
	if cfg.PaymentCode != "" {
		b.WriteString("لاستكمال الدفع، يرجى مسح رمز QR الذي سيتم إرساله أدناه أو نسخ الكود:\n")
		b.WriteString("<b>كود الدفع:</b>\n")
		b.WriteString(tgui.Code(cfg.PaymentCode).String() + "\n\n")
	} else {
		b.WriteString("يرجى مسح رمز QR الذي سيتم إرساله أدناه.\n\n")
	}
	b.WriteString("<b>2. إرسال الإيصال:</b>\n")
	b.WriteString("أرسل صورة <b>إيصال الدفع</b> إلى المالك ليقوم بالتأكيد والتفعيل فوراً.\n")
	b.WriteString("<b>⚠️ هام:</b> لا تحتاج لإرسال رقم الطلب يدوياً للمالك.")
	return b.String()
}

func qrFallbackText(code string) string {
	return "⚠️ <b>خطأ في إرسال صورة QR</b>: يرجى نسخ الكود أعلاه مباشرةً:\n" + tgui.Code(code).String()
}

func activationText(orderID, expiry string) string {
	return "✅ <b>تم تفعيل اشتراكك بنجاح!</b>\n\n" +
		"لقد تم تأكيد دفعك لطلب رقم <b>" + tgui.Esc(orderID).String() + "</b>.\n" +
		"ستبدأ الآن باستلام إشعارات الصلاة والأذكار وفقاً لتوقيت محافظتك.\n" +
		"📅 ينتهي الاشتراك في: <b>" + tgui.Esc(expiry).String() + "</b>"
}

// LocationChosenText is shown after a successful location pick, above the
// order button.
func LocationChosenText(loc timesource.Location, price string) string {
	if price == "" {
		price = "1$ (USD)"
	}
	return "🎉 <b>اختيارك لمحافظة " + tgui.Esc(loc.Arabic).String() + " تم بنجاح!</b> 🎉\n\n" +
		"الآن أنت جاهز للانطلاق نحو خدمة الإشعارات الدينية المتميزة.\n\n" +
		"🕋 <b>دقة لا مثيل لها:</b> مواقيت صلاة وإشعارات مُخصصة.\n" +
		"✨ <b>إثراء روحي يومي:</b> استلام الأذكار الصباحية والمسائية تلقائياً.\n\n" +
		"--- <b>لتفعيل الخدمة والمتابعة</b> ---\n" +
		"<b>💰 قيمة الاشتراك:</b> " + tgui.Esc(price).String() + ".\n" +
		"<b>💳 طريقة الدفع:</b> شام كاش (Sham Cash).\n\n" +
		"اضغط على الزر أدناه للحصول على <b>رقم طلبك</b> وبدء عملية الدفع:"
}

// PriceText returns the configured price label.
func (m *Manager) PriceText() string { return m.config().PriceText }
