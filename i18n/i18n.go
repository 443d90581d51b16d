// Package i18n translates message codes used by templates and validation.
package i18n

import "strings"

// DefaultLang is used when the client expresses no supported preference.
const DefaultLang = "en"

var supported = map[string]bool{"en": true, "fr": true}

var messages = map[string]map[string]string{
	"en": {
		"required":             "Required",
		"too_long":             "Too long",
		"invalid_email":        "Invalid email address",
		"invalid_choice":       "Invalid choice",
		"invalid_number":       "Must be a number",
		"invalid_date":         "Invalid date",
		"invalid_timezone":     "Unknown time zone",
		"must_be_positive":     "Must be greater than zero",
		"must_not_be_negative": "Must not be negative",
		"out_of_range":         "Out of range",
		"too_many_decimals":    "Too many decimal places",
		"due_before_issue":     "Due date is before issue date",
		"no_items":             "Add at least one line item",
		"number_taken":         "This invoice number is already used",
		"email_taken":          "An account already uses this email",
		"password_too_short":   "Password must be at least 8 characters",
		"password_mismatch":    "Passwords do not match",
		"wrong_password":       "Current password is incorrect",
		"invalid_credentials":  "Invalid email or password",
		"unsupported_image":    "Upload a PNG, JPEG, GIF or WebP image",
		"image_too_large":      "Image is too large",
		"invoice_saved":        "Invoice saved",
		"invoice_deleted":      "Invoice deleted",
		"invoice_queued":       "Invoice queued for delivery",
		"invoice_locked":       "Paid invoices cannot be edited",
		"status_updated":       "Status updated",
		"settings_saved":       "Settings saved",
		"password_changed":     "Password changed",
		"template_saved":       "Template saved",
		"template_deleted":     "Template deleted",
		"recurring_saved":      "Recurring invoice saved",
		"recurring_deleted":    "Recurring invoice deleted",
		"delivery_requeued":    "Delivery re-queued",
		"generic_error":        "Something went wrong. Please try again.",
		"status_draft":         "Draft",
		"status_unpaid":        "Unpaid",
		"status_paid":          "Paid",
		"status_overdue":       "Overdue",
		"welcome":              "Welcome! Start by completing your business details.",
		"logged_out":           "You are logged out",
		"not_found":            "Page not found",
		"forbidden":            "You cannot access this page",
		"no_recipient":         "Add a client email or enter a recipient",
		"delivery_not_dead":    "Only failed deliveries can be retried",
		"nav_dashboard":        "Dashboard",
		"nav_invoices":         "Invoices",
		"nav_templates":        "Templates",
		"nav_recurring":        "Recurring",
		"nav_analytics":        "Analytics",
		"nav_settings":         "Settings",
		"nav_logout":           "Log out",
		"nav_login":            "Log in",
		"nav_signup":           "Sign up",
		"home_title":           "Invoicing without the busywork",
		"home_lead":            "Create invoices, send them by email or WhatsApp, and see what you are owed at a glance.",
		"back_home":            "Back to home",
		"stat_revenue":         "Revenue",
		"stat_outstanding":     "Outstanding",
		"stat_average":         "Average",
		"by_status":            "By status",
		"recent_invoices":      "Recent invoices",
		"no_invoices":          "No invoices yet.",
		"new_invoice":          "New invoice",
		"total":                "Total",
		"subtotal":             "Subtotal",
		"tax":                  "Tax",
		"monthly":              "Monthly",
		"issued":               "Issued",
		"due":                  "Due",
		"top_clients":          "Top clients",
		"no_data":              "No data yet.",
		"search_placeholder":   "Number or client",
		"all_statuses":         "All statuses",
		"filter":               "Filter",
		"client":               "Client",
		"use_template":         "Use template",
		"number":               "Number",
		"number_auto":          "Assigned automatically",
		"terms":                "Terms",
		"notes":                "Notes",
		"save":                 "Save",
		"edit":                 "Edit",
		"delete":               "Delete",
		"line_items":           "Line items",
		"items_hint":           "Leave a row empty to skip it.",
		"sent_at":              "Sent on",
		"paid_at":              "Paid on",
		"send_email":           "Send by email",
		"send":                 "Send",
		"public_link":          "Public link",
		"name":                 "Name",
		"currency":             "Currency",
		"new_template":         "New template",
		"no_templates":         "No templates yet.",
		"due_days":             "Payment terms (days)",
		"new_recurring":        "New recurring invoice",
		"no_recurring":         "No recurring invoices yet.",
		"frequency":            "Frequency",
		"next_run":             "Next invoice",
		"paused":               "Paused",
		"pause":                "Pause",
		"resume":               "Resume",
		"schedule":             "Schedule",
		"start_date":           "Start date",
		"end_date":             "End date",
		"active":               "Active",
		"auto_send":            "Email each invoice automatically",
		"freq_weekly":          "Weekly",
		"freq_monthly":         "Monthly",
		"freq_quarterly":       "Quarterly",
		"freq_yearly":          "Yearly",
		"tab_profile":          "Profile",
		"tab_business":         "Business",
		"tab_security":         "Security",
		"tab_notifications":    "Notifications",
		"tab_billing":          "Billing",
		"company_name":         "Company name",
		"address":              "Address",
		"phone":                "Phone",
		"tax_id":               "Tax ID",
		"defaults":             "Invoice defaults",
		"invoice_prefix":       "Invoice prefix",
		"next_number":          "Next number",
		"timezone":             "Time zone",
		"remove_logo":          "Remove logo",
		"current_password":     "Current password",
		"new_password":         "New password",
		"confirm_password":     "Confirm new password",
		"notify_on_send":       "Send me a copy of every invoice email",
		"notify_overdue":       "Tell me when invoices become overdue",
		"deliveries":           "Recent deliveries",
		"no_deliveries":        "No emails sent yet.",
		"recipient":            "Recipient",
		"kind":                 "Type",
		"attempts":             "Attempts",
		"retry":                "Retry",
		"job_invoice":          "Invoice",
		"job_overdue_notice":   "Overdue notice",
		"job_status_pending":   "Pending",
		"job_status_running":   "Sending",
		"job_status_sent":      "Sent",
		"job_status_dead":      "Failed",
		"plan":                 "Plan",
		"plan_free":            "Free",
		"plan_pro":             "Pro",
		"period_start":         "Current period started",
		"invoices_this_month":  "Invoices this month",
		"emails_this_month":    "Emails sent this month",
		"remaining":            "Remaining",
		"unlimited":            "Unlimited",
		"billing_note":         "Plan changes are handled by support.",
	},
	"fr": {
		"required":             "Requis",
		"too_long":             "Trop long",
		"invalid_email":        "Adresse e-mail invalide",
		"invalid_choice":       "Choix invalide",
		"invalid_number":       "Doit être un nombre",
		"invalid_date":         "Date invalide",
		"invalid_timezone":     "Fuseau horaire inconnu",
		"must_be_positive":     "Doit être supérieur à zéro",
		"must_not_be_negative": "Ne doit pas être négatif",
		"out_of_range":         "Hors limites",
		"too_many_decimals":    "Trop de décimales",
		"due_before_issue":     "L'échéance précède la date d'émission",
		"no_items":             "Ajoutez au moins une ligne",
		"number_taken":         "Ce numéro de facture est déjà utilisé",
		"email_taken":          "Un compte utilise déjà cet e-mail",
		"password_too_short":   "Le mot de passe doit contenir au moins 8 caractères",
		"password_mismatch":    "Les mots de passe ne correspondent pas",
		"wrong_password":       "Mot de passe actuel incorrect",
		"invalid_credentials":  "E-mail ou mot de passe invalide",
		"unsupported_image":    "Envoyez une image PNG, JPEG, GIF ou WebP",
		"image_too_large":      "Image trop volumineuse",
		"invoice_saved":        "Facture enregistrée",
		"invoice_deleted":      "Facture supprimée",
		"invoice_queued":       "Facture en file d'envoi",
		"invoice_locked":       "Une facture payée ne peut pas être modifiée",
		"status_updated":       "Statut mis à jour",
		"settings_saved":       "Paramètres enregistrés",
		"password_changed":     "Mot de passe modifié",
		"template_saved":       "Modèle enregistré",
		"template_deleted":     "Modèle supprimé",
		"recurring_saved":      "Facture récurrente enregistrée",
		"recurring_deleted":    "Facture récurrente supprimée",
		"delivery_requeued":    "Envoi replanifié",
		"generic_error":        "Une erreur est survenue. Veuillez réessayer.",
		"status_draft":         "Brouillon",
		"status_unpaid":        "Impayée",
		"status_paid":          "Payée",
		"status_overdue":       "En retard",
		"welcome":              "Bienvenue ! Commencez par compléter les informations de votre entreprise.",
		"logged_out":           "Vous êtes déconnecté",
		"not_found":            "Page introuvable",
		"forbidden":            "Accès refusé",
		"no_recipient":         "Ajoutez un e-mail client ou saisissez un destinataire",
		"delivery_not_dead":    "Seuls les envois en échec peuvent être relancés",
		"nav_dashboard":        "Tableau de bord",
		"nav_invoices":         "Factures",
		"nav_templates":        "Modèles",
		"nav_recurring":        "Récurrentes",
		"nav_analytics":        "Statistiques",
		"nav_settings":         "Paramètres",
		"nav_logout":           "Déconnexion",
		"nav_login":            "Connexion",
		"nav_signup":           "Inscription",
		"home_title":           "La facturation sans la paperasse",
		"home_lead":            "Créez vos factures, envoyez-les par e-mail ou WhatsApp et suivez ce que l’on vous doit.",
		"back_home":            "Retour à l’accueil",
		"stat_revenue":         "Chiffre d’affaires",
		"stat_outstanding":     "En attente",
		"stat_average":         "Moyenne",
		"by_status":            "Par statut",
		"recent_invoices":      "Factures récentes",
		"no_invoices":          "Aucune facture pour le moment.",
		"new_invoice":          "Nouvelle facture",
		"total":                "Total",
		"subtotal":             "Sous-total",
		"tax":                  "TVA",
		"monthly":              "Par mois",
		"issued":               "Émise le",
		"due":                  "Échéance",
		"top_clients":          "Meilleurs clients",
		"no_data":              "Pas encore de données.",
		"search_placeholder":   "Numéro ou client",
		"all_statuses":         "Tous les statuts",
		"filter":               "Filtrer",
		"client":               "Client",
		"use_template":         "Utiliser le modèle",
		"number":               "Numéro",
		"number_auto":          "Attribué automatiquement",
		"terms":                "Conditions",
		"notes":                "Notes",
		"save":                 "Enregistrer",
		"edit":                 "Modifier",
		"delete":               "Supprimer",
		"line_items":           "Lignes",
		"items_hint":           "Laissez une ligne vide pour l’ignorer.",
		"sent_at":              "Envoyée le",
		"paid_at":              "Payée le",
		"send_email":           "Envoyer par e-mail",
		"send":                 "Envoyer",
		"public_link":          "Lien public",
		"name":                 "Nom",
		"currency":             "Devise",
		"new_template":         "Nouveau modèle",
		"no_templates":         "Aucun modèle pour le moment.",
		"due_days":             "Délai de paiement (jours)",
		"new_recurring":        "Nouvelle facture récurrente",
		"no_recurring":         "Aucune facture récurrente.",
		"frequency":            "Fréquence",
		"next_run":             "Prochaine facture",
		"paused":               "En pause",
		"pause":                "Suspendre",
		"resume":               "Reprendre",
		"schedule":             "Planification",
		"start_date":           "Date de début",
		"end_date":             "Date de fin",
		"active":               "Active",
		"auto_send":            "Envoyer chaque facture automatiquement",
		"freq_weekly":          "Hebdomadaire",
		"freq_monthly":         "Mensuelle",
		"freq_quarterly":       "Trimestrielle",
		"freq_yearly":          "Annuelle",
		"tab_profile":          "Profil",
		"tab_business":         "Entreprise",
		"tab_security":         "Sécurité",
		"tab_notifications":    "Notifications",
		"tab_billing":          "Abonnement",
		"company_name":         "Raison sociale",
		"address":              "Adresse",
		"phone":                "Téléphone",
		"tax_id":               "N° de TVA",
		"defaults":             "Valeurs par défaut",
		"invoice_prefix":       "Préfixe des factures",
		"next_number":          "Prochain numéro",
		"timezone":             "Fuseau horaire",
		"remove_logo":          "Supprimer le logo",
		"current_password":     "Mot de passe actuel",
		"new_password":         "Nouveau mot de passe",
		"confirm_password":     "Confirmer le mot de passe",
		"notify_on_send":       "M’envoyer une copie de chaque facture",
		"notify_overdue":       "Me prévenir des factures en retard",
		"deliveries":           "Envois récents",
		"no_deliveries":        "Aucun e-mail envoyé.",
		"recipient":            "Destinataire",
		"kind":                 "Type",
		"attempts":             "Tentatives",
		"retry":                "Relancer",
		"job_invoice":          "Facture",
		"job_overdue_notice":   "Relance de retard",
		"job_status_pending":   "En attente",
		"job_status_running":   "En cours",
		"job_status_sent":      "Envoyé",
		"job_status_dead":      "Échec",
		"plan":                 "Formule",
		"plan_free":            "Gratuite",
		"plan_pro":             "Pro",
		"period_start":         "Période en cours depuis le",
		"invoices_this_month":  "Factures ce mois-ci",
		"emails_this_month":    "E-mails envoyés ce mois-ci",
		"remaining":            "Restant",
		"unlimited":            "Illimité",
		"billing_note":         "Les changements de formule passent par le support.",
	},
}

// Supported reports whether lang has a translation table.
func Supported(lang string) bool { return supported[lang] }

// DetectLanguage picks the first supported language from an Accept-Language header.
func DetectLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		base := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if supported[base] {
			return base
		}
	}
	return DefaultLang
}

// T translates code, falling back to the default language and then to the code itself.
func T(lang, code string) string {
	if m, ok := messages[lang]; ok {
		if s, ok := m[code]; ok {
			return s
		}
	}
	if s, ok := messages[DefaultLang][code]; ok {
		return s
	}
	return code
}
